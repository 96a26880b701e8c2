package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// Policy controls one Execute call.
type Policy struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// DefaultPolicy is 3 retries from a 1s base with a 30s per-attempt timeout.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: time.Second, Timeout: 30 * time.Second}
}

// FetchPolicy is used for exchange snapshot fetches.
func FetchPolicy() Policy {
	return Policy{MaxRetries: 2, BaseDelay: 2 * time.Second, Timeout: 30 * time.Second}
}

// Backoff shapes the delay between attempts.
type Backoff struct {
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Multiplier float64       `mapstructure:"multiplier"`
	Jitter     bool          `mapstructure:"jitter"`
}

// DefaultBackoff doubles up to 30s with jitter.
func DefaultBackoff() Backoff {
	return Backoff{MaxDelay: 30 * time.Second, Multiplier: 2, Jitter: true}
}

// Delay returns the wait before retry number attempt (zero based):
// min(base*multiplier^attempt, max), spread by ±50% when jitter is on.
func (b Backoff) Delay(base time.Duration, attempt int) time.Duration {
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(base) * math.Pow(mult, float64(attempt))
	if b.MaxDelay > 0 && d > float64(b.MaxDelay) {
		d = float64(b.MaxDelay)
	}
	if b.Jitter {
		d *= 0.5 + rand.Float64()
	}
	return time.Duration(d)
}

// Executor runs operations through per-exchange breakers with retries.
type Executor struct {
	breakers *Breakers
	backoff  Backoff
	logger   zerolog.Logger
}

// NewExecutor builds an executor. A nil registry gets default breakers.
func NewExecutor(breakers *Breakers, backoff Backoff, logger zerolog.Logger) *Executor {
	if breakers == nil {
		breakers = NewBreakers(DefaultBreakerConfig())
	}
	return &Executor{
		breakers: breakers,
		backoff:  backoff,
		logger:   logger.With().Str("component", "retry").Logger(),
	}
}

// Breakers exposes the breaker registry.
func (e *Executor) Breakers() *Breakers {
	return e.breakers
}

// Execute runs op for exchange. The breaker is consulted once up front and records
// a single outcome for the whole call.
func (e *Executor) Execute(ctx context.Context, exchange string, p Policy, op func(context.Context) error) error {
	b := e.breakers.Get(exchange)
	if !b.CanExecute() {
		return Wrap(KindAPI, exchange, "execute", ErrCircuitOpen)
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = WithTimeout(ctx, p.Timeout, op)
		if err == nil {
			b.RecordSuccess()
			return nil
		}
		if attempt >= p.MaxRetries || !IsRetryable(err) || ctx.Err() != nil {
			break
		}

		delay := e.backoff.Delay(p.BaseDelay, attempt)
		e.logger.Debug().Err(err).Str("exchange", exchange).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			b.RecordFailure(err)
			return ctx.Err()
		case <-timer.C:
		}
	}

	b.RecordFailure(err)
	return err
}

// WithTimeout runs op and returns a TIMEOUT error if it outlives d. The context
// handed to op is cancelled when WithTimeout returns.
func WithTimeout(ctx context.Context, d time.Duration, op func(context.Context) error) error {
	if d <= 0 {
		return op(ctx)
	}
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- op(opCtx) }()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return Wrap(KindTimeout, "", "", fmt.Errorf("operation timed out after %s: %w", d, context.DeadlineExceeded))
	case <-ctx.Done():
		return ctx.Err()
	}
}
