package lifecycle

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"crypto-arb-scanner/internal/opportunity"
)

// Status is the lifecycle state of a tracked opportunity.
type Status string

const (
	StatusNew      Status = "NEW"
	StatusActive   Status = "ACTIVE"
	StatusUpdated  Status = "UPDATED"
	StatusExpired  Status = "EXPIRED"
	StatusExecuted Status = "EXECUTED"
)

// Live reports whether the status is one of NEW, ACTIVE or UPDATED.
func (s Status) Live() bool {
	return s == StatusNew || s == StatusActive || s == StatusUpdated
}

func (s Status) priority() int {
	switch s {
	case StatusNew:
		return 0
	case StatusUpdated:
		return 1
	case StatusActive:
		return 2
	default:
		return 3
	}
}

// Settings tune the manager.
type Settings struct {
	DefaultTTL            time.Duration `mapstructure:"default_ttl"`
	ProfitChangeThreshold float64       `mapstructure:"profit_change_threshold"`
	HighlightDuration     time.Duration `mapstructure:"highlight_duration"`
	GracePeriod           time.Duration `mapstructure:"grace_period"`
}

// DefaultSettings returns a 5 minute TTL, 0.1 point change threshold, 10s highlight
// and one hour grace period.
func DefaultSettings() Settings {
	return Settings{
		DefaultTTL:            300 * time.Second,
		ProfitChangeThreshold: 0.1,
		HighlightDuration:     10 * time.Second,
		GracePeriod:           time.Hour,
	}
}

func (s Settings) normalized() Settings {
	d := DefaultSettings()
	if s.DefaultTTL <= 0 {
		s.DefaultTTL = d.DefaultTTL
	}
	if s.ProfitChangeThreshold <= 0 {
		s.ProfitChangeThreshold = d.ProfitChangeThreshold
	}
	if s.HighlightDuration <= 0 {
		s.HighlightDuration = d.HighlightDuration
	}
	if s.GracePeriod <= 0 {
		s.GracePeriod = d.GracePeriod
	}
	return s
}

// Entry is a tracked opportunity.
type Entry struct {
	Key            string                  `json:"key"`
	Opportunity    opportunity.Opportunity `json:"opportunity"`
	Status         Status                  `json:"status"`
	CreatedAt      time.Time               `json:"createdAt"`
	LastUpdated    time.Time               `json:"lastUpdated"`
	ExpiresAt      time.Time               `json:"expiresAt"`
	UpdateCount    int                     `json:"updateCount"`
	ProfitHistory  []float64               `json:"profitHistory"`
	HighlightUntil time.Time               `json:"highlightUntil"`
	// BaselineProfit is the profit at the last NEW or UPDATED transition.
	// Profit changes are measured against it, not against the previous sighting.
	BaselineProfit float64 `json:"baselineProfit"`
}

// IsHighlighted reports whether the entry changed recently enough to stand out.
func (e Entry) IsHighlighted(now time.Time) bool {
	return e.Status.Live() && now.Before(e.HighlightUntil)
}

func (e *Entry) clone() Entry {
	c := *e
	c.ProfitHistory = append([]float64(nil), e.ProfitHistory...)
	return c
}

// Stats summarizes the tracked set.
type Stats struct {
	Total         int            `json:"total"`
	ByStatus      map[Status]int `json:"byStatus"`
	AverageProfit float64        `json:"averageProfit"`
}

// Manager reconciles successive scans into lifecycles keyed by Opportunity.Key.
type Manager struct {
	mu       sync.Mutex
	settings Settings
	entries  map[string]*Entry
	now      func() time.Time
}

// NewManager builds a manager. A nil clock uses time.Now.
func NewManager(settings Settings, clock func() time.Time) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{settings: settings.normalized(), entries: make(map[string]*Entry), now: clock}
}

// TTL returns how long an opportunity of this kind lives without being re-sighted.
func (m *Manager) TTL(o opportunity.Opportunity) time.Duration {
	switch o.Kind {
	case opportunity.Flash:
		if o.Flash != nil && o.Flash.TimeWindow > 0 {
			return o.Flash.TimeWindow
		}
	case opportunity.MarketMaking:
		return 600 * time.Second
	case opportunity.Statistical, opportunity.Pairs:
		return 1800 * time.Second
	}
	return m.settings.DefaultTTL
}

// Update reconciles a whole scan: present opportunities are added or updated,
// tracked ones missing from the scan expire, then TTL expiry and garbage collection
// run. It returns the entries sighted in this scan.
func (m *Manager) Update(list []opportunity.Opportunity) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	seen := make(map[string]struct{}, len(list))
	touched := make([]Entry, 0, len(list))
	for _, o := range list {
		e := m.upsert(o, now)
		seen[e.Key] = struct{}{}
		touched = append(touched, e.clone())
	}

	for key, e := range m.entries {
		if _, ok := seen[key]; ok {
			continue
		}
		if e.Status.Live() {
			e.Status = StatusExpired
			e.ExpiresAt = now
		}
	}
	m.sweep(now)

	// Last sighting wins when a scan repeats a key.
	dedup := make([]Entry, 0, len(touched))
	index := make(map[string]int, len(touched))
	for _, e := range touched {
		if i, ok := index[e.Key]; ok {
			dedup[i] = e
			continue
		}
		index[e.Key] = len(dedup)
		dedup = append(dedup, e)
	}
	return dedup
}

func (m *Manager) upsert(o opportunity.Opportunity, now time.Time) *Entry {
	key := o.Key()
	e, ok := m.entries[key]
	if ok && e.Status == StatusExecuted {
		return e
	}
	if !ok || e.Status == StatusExpired {
		e = &Entry{
			Key:            key,
			Opportunity:    o,
			Status:         StatusNew,
			CreatedAt:      now,
			LastUpdated:    now,
			ExpiresAt:      now.Add(m.TTL(o)),
			ProfitHistory:  []float64{o.Profit},
			HighlightUntil: now.Add(m.settings.HighlightDuration),
			BaselineProfit: o.Profit,
		}
		m.entries[key] = e
		return e
	}

	if math.Abs(o.Profit-e.BaselineProfit) >= m.settings.ProfitChangeThreshold {
		e.Status = StatusUpdated
		e.UpdateCount++
		e.HighlightUntil = now.Add(m.settings.HighlightDuration)
		e.BaselineProfit = o.Profit
	} else {
		e.Status = StatusActive
	}
	e.Opportunity = o
	e.LastUpdated = now
	e.ExpiresAt = now.Add(m.TTL(o))
	e.ProfitHistory = append(e.ProfitHistory, o.Profit)
	return e
}

func (m *Manager) sweep(now time.Time) {
	for key, e := range m.entries {
		if e.Status.Live() && now.After(e.ExpiresAt) {
			e.Status = StatusExpired
		}
		if !e.Status.Live() && !now.Before(e.ExpiresAt.Add(m.settings.GracePeriod)) {
			delete(m.entries, key)
		}
	}
}

// MarkExecuted freezes an entry. Later sightings leave it unchanged.
func (m *Manager) MarkExecuted(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return fmt.Errorf("opportunity %s not tracked", key)
	}
	e.Status = StatusExecuted
	e.LastUpdated = m.now()
	return nil
}

// Get returns the entry for key.
func (m *Manager) Get(key string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// ProfitHistory returns every profit sighted for key.
func (m *Manager) ProfitHistory(key string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		return append([]float64(nil), e.ProfitHistory...)
	}
	return nil
}

// Active lists live entries: NEW, then UPDATED, then ACTIVE, each by profit descending.
func (m *Manager) Active() []Entry {
	out := m.collect(func(e *Entry) bool { return e.Status.Live() })
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Status.priority(), out[j].Status.priority()
		if pi != pj {
			return pi < pj
		}
		if out[i].Opportunity.Profit != out[j].Opportunity.Profit {
			return out[i].Opportunity.Profit > out[j].Opportunity.Profit
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Expired lists expired entries still within their grace period, newest first.
func (m *Manager) Expired() []Entry {
	out := m.collect(func(e *Entry) bool { return e.Status == StatusExpired })
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.After(out[j].ExpiresAt)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Highlighted lists live entries whose highlight window covers now.
func (m *Manager) Highlighted(now time.Time) []Entry {
	var out []Entry
	for _, e := range m.Active() {
		if e.IsHighlighted(now) {
			out = append(out, e)
		}
	}
	return out
}

func (m *Manager) collect(keep func(*Entry) bool) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if keep(e) {
			out = append(out, e.clone())
		}
	}
	return out
}

// Stats counts entries per status and averages the profit of live ones.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Total: len(m.entries), ByStatus: make(map[Status]int)}
	var sum float64
	var live int
	for _, e := range m.entries {
		s.ByStatus[e.Status]++
		if e.Status.Live() {
			sum += e.Opportunity.Profit
			live++
		}
	}
	if live > 0 {
		s.AverageProfit = sum / float64(live)
	}
	return s
}

// Clear forgets everything.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.entries = make(map[string]*Entry)
	m.mu.Unlock()
}
