package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type lookupMock struct {
	mock.Mock
}

func (m *lookupMock) LastAlertAt(ctx context.Context, key string) (time.Time, bool, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(time.Time), args.Bool(1), args.Error(2)
}

func TestGateCooldown(t *testing.T) {
	g := NewGate(10*time.Minute, nil)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	ok, err := g.Allow(ctx, "k", t0)
	require.NoError(t, err)
	require.True(t, ok)
	g.Record("k", t0)

	ok, _ = g.Allow(ctx, "k", t0.Add(5*time.Minute))
	if ok {
		t.Fatal("冷却期内不应再次告警")
	}
	ok, _ = g.Allow(ctx, "k", t0.Add(10*time.Minute))
	assert.True(t, ok)

	ok, _ = g.Allow(ctx, "other", t0.Add(time.Minute))
	assert.True(t, ok)
}

func TestGateZeroCooldown(t *testing.T) {
	g := NewGate(0, nil)
	now := time.Now()
	g.Record("k", now)
	ok, err := g.Allow(context.Background(), "k", now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGateUsesLookupOnce(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	lookup := &lookupMock{}
	lookup.On("LastAlertAt", mock.Anything, "k").Return(t0.Add(-time.Minute), true, nil).Once()

	g := NewGate(30*time.Minute, lookup)
	ok, err := g.Allow(context.Background(), "k", t0)
	require.NoError(t, err)
	assert.False(t, ok)

	// Served from memory the second time.
	ok, _ = g.Allow(context.Background(), "k", t0.Add(29*time.Minute))
	assert.True(t, ok)
	lookup.AssertExpectations(t)
}

func TestGateLookupError(t *testing.T) {
	lookup := &lookupMock{}
	lookup.On("LastAlertAt", mock.Anything, "k").Return(time.Time{}, false, errors.New("db down"))

	g := NewGate(time.Hour, lookup)
	ok, err := g.Allow(context.Background(), "k", time.Now())
	assert.Error(t, err)
	assert.True(t, ok, "查询失败时不应吞掉告警")
}

func TestGateForget(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	g := NewGate(time.Hour, nil)
	g.Record("old", t0)
	g.Record("new", t0.Add(2*time.Hour))
	g.Forget(t0.Add(time.Hour))

	ok, _ := g.Allow(context.Background(), "old", t0.Add(90*time.Minute))
	assert.True(t, ok)
	ok, _ = g.Allow(context.Background(), "new", t0.Add(150*time.Minute))
	assert.False(t, ok)
}
