package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ScanRun summarises one persisted scan cycle.
type ScanRun struct {
	ID               uuid.UUID
	Bucket           time.Time
	StartedAt        time.Time
	Duration         time.Duration
	Exchanges        int
	FailedExchanges  int
	OpportunityCount int
	Synthetic        bool
	QualityOverall   decimal.Decimal
	Condition        string
	Activity         string
	RiskLevel        string
	CreatedAt        time.Time
}

// OpportunityRecord is the latest lifecycle state of one opportunity key.
type OpportunityRecord struct {
	Key         string
	Kind        string
	Pair        string
	Exchanges   []string
	Status      string
	ProfitPct   decimal.Decimal
	FirstSeen   time.Time
	LastSeen    time.Time
	ExpiresAt   time.Time
	UpdateCount int
	Detail      json.RawMessage
	UpdatedAt   time.Time
}

// Sighting is one observation of an opportunity in a scan run.
type Sighting struct {
	RunID          uuid.UUID
	OpportunityKey string
	ObservedAt     time.Time
	ProfitPct      decimal.Decimal
	Status         string
}

// AlertRecord captures an emitted alert for cooldown and auditing.
type AlertRecord struct {
	ID             int64
	OpportunityKey string
	Kind           string
	ProfitPct      decimal.Decimal
	ThresholdPct   decimal.Decimal
	Channels       []string
	CreatedAt      time.Time
}

// PruneResult counts rows removed by retention.
type PruneResult struct {
	ScanRuns      int64
	Opportunities int64
	Alerts        int64
}
