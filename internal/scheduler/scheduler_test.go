package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInterval(t *testing.T) {
	_, err := New(Options{}, zerolog.Nop())
	if !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("间隔为 0 应报错, got %v", err)
	}
}

func TestRunImmediatelyAndTicks(t *testing.T) {
	s, err := New(Options{Interval: 20 * time.Millisecond, RunImmediately: true}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			ticks.Add(1)
			return errors.New("ignored")
		})
	}()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestTickContextSurvivesCancel(t *testing.T) {
	s, err := New(Options{Interval: time.Hour, RunImmediately: true}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var tickErr error
	var wg sync.WaitGroup
	wg.Add(1)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(tickCtx context.Context, _ time.Time) error {
			defer wg.Done()
			close(started)
			// The parent is cancelled while this tick is running.
			time.Sleep(30 * time.Millisecond)
			tickErr = tickCtx.Err()
			return nil
		})
	}()

	<-started
	cancel()
	wg.Wait()
	if tickErr != nil {
		t.Fatalf("进行中的 tick 不应被取消: %v", tickErr)
	}
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestStartupDelayCancelled(t *testing.T) {
	s, err := New(Options{Interval: time.Second, StartupDelay: time.Hour, RunImmediately: true}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err = s.Run(ctx, func(context.Context, time.Time) error { called = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestAlignedBuckets(t *testing.T) {
	s, err := New(Options{Interval: time.Minute, AlignToBucket: true}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 10, 0, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 1, 0, 0, time.UTC), s.nextTick(now))
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), s.bucketStart(now))

	onBoundary := time.Date(2024, 1, 1, 10, 1, 0, 0, time.UTC)
	assert.Equal(t, onBoundary.Add(time.Minute), s.nextTick(onBoundary))

	u, err := New(Options{Interval: time.Minute}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), u.nextTick(now))
	assert.Equal(t, now, u.bucketStart(now))
}
