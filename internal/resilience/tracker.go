package resilience

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxTrackedErrors = 100
	recentErrors     = 10
)

// Entry is one recorded failure.
type Entry struct {
	Kind       Kind      `json:"kind"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Exchange   string    `json:"exchange,omitempty"`
	Time       time.Time `json:"time"`
	Retryable  bool      `json:"retryable"`
	Suggestion string    `json:"suggestion"`
}

// Stats summarizes the tracked history.
type Stats struct {
	Total      int              `json:"total"`
	ByKind     map[Kind]int     `json:"byKind"`
	BySeverity map[Severity]int `json:"bySeverity"`
	ByExchange map[string]int   `json:"byExchange"`
	Recent     []Entry          `json:"recent"`
}

// Tracker keeps a bounded history of failures.
type Tracker struct {
	mu      sync.Mutex
	entries []Entry
	logger  zerolog.Logger
	now     func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		logger: logger.With().Str("component", "errors").Logger(),
		now:    time.Now,
	}
}

// Record classifies and stores err.
func (t *Tracker) Record(err error, exchange string) Entry {
	kind := KindOf(err)
	e := Entry{
		Kind:       kind,
		Severity:   kind.Severity(),
		Message:    err.Error(),
		Exchange:   exchange,
		Time:       t.now(),
		Retryable:  kind.Retryable(),
		Suggestion: kind.Suggestion(),
	}

	t.mu.Lock()
	t.entries = append(t.entries, e)
	if over := len(t.entries) - maxTrackedErrors; over > 0 {
		t.entries = append([]Entry(nil), t.entries[over:]...)
	}
	t.mu.Unlock()

	var ev *zerolog.Event
	switch e.Severity {
	case SeverityHigh:
		ev = t.logger.Error()
	case SeverityMedium:
		ev = t.logger.Warn()
	default:
		ev = t.logger.Info()
	}
	ev.Str("kind", string(kind)).Str("exchange", exchange).Bool("retryable", e.Retryable).Msg(e.Message)
	return e
}

// Stats summarizes the history.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		Total:      len(t.entries),
		ByKind:     make(map[Kind]int),
		BySeverity: make(map[Severity]int),
		ByExchange: make(map[string]int),
	}
	for _, e := range t.entries {
		s.ByKind[e.Kind]++
		s.BySeverity[e.Severity]++
		if e.Exchange != "" {
			s.ByExchange[e.Exchange]++
		}
	}
	start := len(t.entries) - recentErrors
	if start < 0 {
		start = 0
	}
	for i := len(t.entries) - 1; i >= start; i-- {
		s.Recent = append(s.Recent, t.entries[i])
	}
	return s
}

// Clear drops the history.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.entries = nil
	t.mu.Unlock()
}
