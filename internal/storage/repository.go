package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertScanRunSQL = `INSERT INTO scan_runs (
        id,
        bucket_ts,
        started_at,
        duration_ms,
        exchanges,
        failed_exchanges,
        opportunity_count,
        synthetic,
        quality_overall,
        condition,
        activity,
        risk_level
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    );`

	listRecentScanRunsSQL = `SELECT
        id,
        bucket_ts,
        started_at,
        duration_ms,
        exchanges,
        failed_exchanges,
        opportunity_count,
        synthetic,
        COALESCE(quality_overall, 0)::text,
        COALESCE(condition, ''),
        COALESCE(activity, ''),
        COALESCE(risk_level, ''),
        created_at
    FROM scan_runs
    ORDER BY bucket_ts DESC
    LIMIT $1;`

	countScanRunsSQL = `SELECT COUNT(*) FROM scan_runs;`

	upsertOpportunitySQL = `INSERT INTO opportunities (
        key,
        kind,
        pair,
        exchanges,
        status,
        profit_pct,
        first_seen,
        last_seen,
        expires_at,
        update_count,
        detail,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW()
    )
    ON CONFLICT (key) DO UPDATE
    SET
        status       = EXCLUDED.status,
        profit_pct   = EXCLUDED.profit_pct,
        last_seen    = EXCLUDED.last_seen,
        expires_at   = EXCLUDED.expires_at,
        update_count = EXCLUDED.update_count,
        detail       = EXCLUDED.detail,
        updated_at   = NOW();`

	listRecentOpportunitiesSQL = `SELECT
        key,
        kind,
        pair,
        exchanges,
        status,
        profit_pct::text,
        first_seen,
        last_seen,
        expires_at,
        update_count,
        detail,
        updated_at
    FROM opportunities
    WHERE ($2 = '' OR kind = $2)
    ORDER BY last_seen DESC, profit_pct DESC
    LIMIT $1;`

	listSightingsSQL = `SELECT
        run_id,
        opportunity_key,
        observed_at,
        profit_pct::text,
        status
    FROM opportunity_sightings
    WHERE observed_at >= $1
      AND observed_at < $2
      AND ($3 = '' OR opportunity_key = $3)
    ORDER BY observed_at, opportunity_key;`

	insertAlertSQL = `INSERT INTO alerts (
        opportunity_key,
        kind,
        profit_pct,
        threshold_pct,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, opportunity_key, kind, profit_pct::text, threshold_pct::text, channels, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        opportunity_key,
        kind,
        profit_pct::text,
        threshold_pct::text,
        channels,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	lastAlertAtSQL = `SELECT MAX(created_at) FROM alerts WHERE opportunity_key = $1;`

	deleteScanRunsBeforeSQL      = `DELETE FROM scan_runs WHERE bucket_ts < $1;`
	deleteOpportunitiesBeforeSQL = `DELETE FROM opportunities WHERE last_seen < $1;`
	deleteAlertsBeforeSQL        = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

var sightingColumns = []string{"run_id", "opportunity_key", "observed_at", "profit_pct", "status"}

// ScanStore persists scan runs, opportunity state and sightings.
type ScanStore interface {
	InsertScanRun(ctx context.Context, run ScanRun) error
	UpsertOpportunities(ctx context.Context, records []OpportunityRecord) error
	InsertSightings(ctx context.Context, sightings []Sighting) (int64, error)
}

// HistoryStore reads persisted history back for the CLI.
type HistoryStore interface {
	ListRecentScanRuns(ctx context.Context, limit int) ([]ScanRun, error)
	ListRecentOpportunities(ctx context.Context, limit int, kind string) ([]OpportunityRecord, error)
	ListSightings(ctx context.Context, from, to time.Time, key string) ([]Sighting, error)
	CountScanRuns(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	LastAlertAt(ctx context.Context, key string) (time.Time, bool, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Pruner deletes rows older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Time) (PruneResult, error)
}

// Store aggregates access to scan history and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock dies with the connection anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertScanRun records one cycle summary.
func (s *Store) InsertScanRun(ctx context.Context, run ScanRun) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertScanRunSQL,
		run.ID,
		run.Bucket,
		run.StartedAt,
		run.Duration.Milliseconds(),
		run.Exchanges,
		run.FailedExchanges,
		run.OpportunityCount,
		run.Synthetic,
		run.QualityOverall.String(),
		run.Condition,
		run.Activity,
		run.RiskLevel,
	)
	if execErr != nil {
		return fmt.Errorf("insert scan run: %w", execErr)
	}
	return nil
}

// ListRecentScanRuns lists the newest runs first.
func (s *Store) ListRecentScanRuns(ctx context.Context, limit int) ([]ScanRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentScanRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent scan runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]ScanRun, 0, limit)
	for rows.Next() {
		var (
			run        ScanRun
			durationMS int64
			qualityStr string
		)
		if err := rows.Scan(
			&run.ID,
			&run.Bucket,
			&run.StartedAt,
			&durationMS,
			&run.Exchanges,
			&run.FailedExchanges,
			&run.OpportunityCount,
			&run.Synthetic,
			&qualityStr,
			&run.Condition,
			&run.Activity,
			&run.RiskLevel,
			&run.CreatedAt,
		); err != nil {
			return nil, err
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		if run.QualityOverall, err = decimal.NewFromString(qualityStr); err != nil {
			return nil, fmt.Errorf("parse quality: %w", err)
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// CountScanRuns counts stored runs.
func (s *Store) CountScanRuns(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countScanRunsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count scan runs: %w", scanErr)
	}
	return count, nil
}

// UpsertOpportunities writes the latest state of every record in one batch.
func (s *Store) UpsertOpportunities(ctx context.Context, records []OpportunityRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		var detail any
		if len(rec.Detail) > 0 {
			detail = []byte(rec.Detail)
		}
		exchanges := rec.Exchanges
		if exchanges == nil {
			exchanges = []string{}
		}
		batch.Queue(upsertOpportunitySQL,
			rec.Key,
			rec.Kind,
			rec.Pair,
			exchanges,
			rec.Status,
			rec.ProfitPct.String(),
			rec.FirstSeen,
			rec.LastSeen,
			rec.ExpiresAt,
			rec.UpdateCount,
			detail,
		)
	}

	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert opportunities: %w", err)
	}
	return nil
}

// ListRecentOpportunities lists the most recently seen opportunities, optionally
// restricted to one kind.
func (s *Store) ListRecentOpportunities(ctx context.Context, limit int, kind string) ([]OpportunityRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentOpportunitiesSQL, limit, kind)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent opportunities: %w", queryErr)
	}
	defer rows.Close()

	records := make([]OpportunityRecord, 0, limit)
	for rows.Next() {
		var (
			rec       OpportunityRecord
			profitStr string
			detail    []byte
		)
		if err := rows.Scan(
			&rec.Key,
			&rec.Kind,
			&rec.Pair,
			&rec.Exchanges,
			&rec.Status,
			&profitStr,
			&rec.FirstSeen,
			&rec.LastSeen,
			&rec.ExpiresAt,
			&rec.UpdateCount,
			&detail,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if rec.ProfitPct, err = decimal.NewFromString(profitStr); err != nil {
			return nil, fmt.Errorf("parse profit pct: %w", err)
		}
		rec.Detail = detail
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// InsertSightings bulk-loads sightings with COPY.
func (s *Store) InsertSightings(ctx context.Context, sightings []Sighting) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(sightings) == 0 {
		return 0, nil
	}

	n, copyErr := pool.CopyFrom(ctx,
		pgx.Identifier{"opportunity_sightings"},
		sightingColumns,
		pgx.CopyFromSlice(len(sightings), func(i int) ([]any, error) {
			sg := sightings[i]
			return []any{
				[16]byte(sg.RunID),
				sg.OpportunityKey,
				sg.ObservedAt,
				sg.ProfitPct.InexactFloat64(),
				sg.Status,
			}, nil
		}),
	)
	if copyErr != nil {
		return n, fmt.Errorf("copy sightings: %w", copyErr)
	}
	return n, nil
}

// ListSightings lists sightings within [from, to), optionally for a single key.
func (s *Store) ListSightings(ctx context.Context, from, to time.Time, key string) ([]Sighting, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listSightingsSQL, from, to, key)
	if queryErr != nil {
		return nil, fmt.Errorf("list sightings: %w", queryErr)
	}
	defer rows.Close()

	var sightings []Sighting
	for rows.Next() {
		var (
			sg        Sighting
			profitStr string
		)
		if err := rows.Scan(&sg.RunID, &sg.OpportunityKey, &sg.ObservedAt, &profitStr, &sg.Status); err != nil {
			return nil, err
		}
		if sg.ProfitPct, err = decimal.NewFromString(profitStr); err != nil {
			return nil, fmt.Errorf("parse profit pct: %w", err)
		}
		sightings = append(sightings, sg)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return sightings, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}
	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.OpportunityKey,
		alert.Kind,
		alert.ProfitPct.String(),
		alert.ThresholdPct.String(),
		channels,
	)

	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// LastAlertAt returns when key last alerted, if ever.
func (s *Store) LastAlertAt(ctx context.Context, key string) (time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, err
	}
	var last sql.NullTime
	if scanErr := pool.QueryRow(ctx, lastAlertAtSQL, key).Scan(&last); scanErr != nil {
		return time.Time{}, false, fmt.Errorf("last alert at: %w", scanErr)
	}
	return last.Time, last.Valid, nil
}

// Prune removes runs (and their sightings), stale opportunities and alerts
// older than the cutoff.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (PruneResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return PruneResult{}, err
	}

	var res PruneResult
	txErr := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, deleteScanRunsBeforeSQL, olderThan)
		if err != nil {
			return fmt.Errorf("delete scan runs: %w", err)
		}
		res.ScanRuns = tag.RowsAffected()

		if tag, err = tx.Exec(ctx, deleteOpportunitiesBeforeSQL, olderThan); err != nil {
			return fmt.Errorf("delete opportunities: %w", err)
		}
		res.Opportunities = tag.RowsAffected()

		if tag, err = tx.Exec(ctx, deleteAlertsBeforeSQL, olderThan); err != nil {
			return fmt.Errorf("delete alerts: %w", err)
		}
		res.Alerts = tag.RowsAffected()
		return nil
	})
	if txErr != nil {
		return PruneResult{}, fmt.Errorf("prune: %w", txErr)
	}
	return res, nil
}

func scanAlert(row pgx.Row) (AlertRecord, error) {
	var (
		rec          AlertRecord
		profitStr    string
		thresholdStr string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.OpportunityKey,
		&rec.Kind,
		&profitStr,
		&thresholdStr,
		&rec.Channels,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	var convErr error
	rec.ProfitPct, convErr = decimal.NewFromString(profitStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse profit pct: %w", convErr)
	}
	rec.ThresholdPct, convErr = decimal.NewFromString(thresholdStr)
	if convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse threshold pct: %w", convErr)
	}
	return rec, nil
}

// NewRunID returns a fresh scan run identifier.
func NewRunID() uuid.UUID {
	return uuid.New()
}

var (
	_ ScanStore      = (*Store)(nil)
	_ HistoryStore   = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
	_ Pruner         = (*Store)(nil)
)
