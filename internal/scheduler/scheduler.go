package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per interval with the bucket start time.
type TickFunc func(ctx context.Context, bucket time.Time) error

// ErrInvalidInterval is returned by New for a non-positive interval.
var ErrInvalidInterval = errors.New("scheduler interval must be positive")

// Options tune scheduler behaviour.
type Options struct {
	Interval       time.Duration
	AlignToBucket  bool
	StartupDelay   time.Duration
	RunImmediately bool
}

// Scheduler drives periodic scan cycles.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Interval returns the configured tick interval.
func (s *Scheduler) Interval() time.Duration {
	return s.opts.Interval
}

// Run blocks, invoking tick every interval until ctx is cancelled. Ticks run
// with a context detached from ctx, so cancellation stops the timer but lets
// an in-flight tick finish.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.RunImmediately {
		s.fire(ctx, tick, s.bucketStart(s.now()))
	}

	next := s.nextTick(s.now())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delay := next.Sub(s.now())
		if delay < 0 {
			// A slow tick overran one or more slots; skip them rather than burst.
			skipped := int(-delay/s.opts.Interval) + 1
			s.logger.Warn().Int("skipped", skipped).Msg("tick overran interval")
			next = s.nextTick(s.now())
			delay = next.Sub(s.now())
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.fire(ctx, tick, s.bucketStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, bucket time.Time) {
	s.logger.Debug().Time("bucket", bucket).Msg("executing scheduled tick")
	if err := tick(context.WithoutCancel(ctx), bucket); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("tick execution failed")
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToBucket {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToBucket {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
