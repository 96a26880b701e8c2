package resilience

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
}

// DefaultBreakerConfig returns 5 failures to open, 3 successes to close, 60s recovery.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, SuccessThreshold: 3, RecoveryTimeout: 60 * time.Second}
}

func (c BreakerConfig) normalized() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	return c
}

// Breaker guards one exchange.
type Breaker struct {
	mu sync.Mutex

	cfg       BreakerConfig
	state     State
	failures  int
	successes int
	openedAt  time.Time
	lastError error
	now       func() time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.normalized(), now: time.Now}
}

// CanExecute reports whether a call may proceed, moving OPEN to HALF_OPEN once the
// recovery timeout has elapsed.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.transitionTo(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess notes a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transitionTo(StateClosed)
		}
	}
}

// RecordFailure notes a failed call.
func (b *Breaker) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastError = err
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.transitionTo(StateOpen)
	}
}

func (b *Breaker) transitionTo(s State) {
	b.state = s
	switch s {
	case StateClosed:
		b.failures = 0
		b.successes = 0
	case StateOpen:
		b.openedAt = b.now()
		b.successes = 0
	case StateHalfOpen:
		b.successes = 0
	}
}

// State returns the current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// LastError returns the most recent recorded failure.
func (b *Breaker) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
	b.lastError = nil
}

// Breakers is a registry of breakers keyed by exchange id.
type Breakers struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*Breaker
	now      func() time.Time
}

// NewBreakers returns an empty registry whose breakers share cfg.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg.normalized(), breakers: make(map[string]*Breaker), now: time.Now}
}

// Get returns the breaker for exchange, creating it on first use.
func (r *Breakers) Get(exchange string) *Breaker {
	key := strings.ToLower(exchange)
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[key]
	if !ok {
		b = NewBreaker(r.cfg)
		b.now = r.now
		r.breakers[key] = b
	}
	return b
}

// States snapshots every breaker state.
func (r *Breakers) States() map[string]State {
	r.mu.Lock()
	ids := make([]string, 0, len(r.breakers))
	for id := range r.breakers {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)

	out := make(map[string]State, len(ids))
	for _, id := range ids {
		out[id] = r.Get(id).State()
	}
	return out
}

// Reset closes the breaker for exchange if it exists.
func (r *Breakers) Reset(exchange string) {
	r.mu.Lock()
	b, ok := r.breakers[strings.ToLower(exchange)]
	r.mu.Unlock()
	if ok {
		b.Reset()
	}
}

// ResetAll closes every breaker.
func (r *Breakers) ResetAll() {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()
	for _, b := range list {
		b.Reset()
	}
}
