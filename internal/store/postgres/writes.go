package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tallyline/tallyline/pkg/types"
)

// RegisterMachine inserts or updates a machine registration.
func (s *Store) RegisterMachine(ctx context.Context, m types.Machine) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO machines (machine_id, factory_id, name, lane_count, expected_cycle_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (machine_id) DO UPDATE SET
			factory_id = EXCLUDED.factory_id,
			name = EXCLUDED.name,
			lane_count = EXCLUDED.lane_count,
			expected_cycle_seconds = EXCLUDED.expected_cycle_seconds`,
		m.MachineID, m.FactoryID, m.Name, m.LaneCount, m.ExpectedCycleSeconds, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("registering machine %s: %w", m.MachineID, err)
	}
	return nil
}

// PutAssignment overwrites the active assignment for one lane.
func (s *Store) PutAssignment(ctx context.Context, a types.ActiveAssignment) error {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO active_assignments (machine_id, lane_id, product_sku, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (machine_id, lane_id) DO UPDATE SET
			product_sku = EXCLUDED.product_sku,
			updated_at = EXCLUDED.updated_at`,
		a.MachineID, a.LaneID, a.ProductSKU, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("putting assignment %s lane %d: %w", a.MachineID, a.LaneID, err)
	}
	return nil
}

// PersistLogBatch writes all rows for one ingested event in a single
// transaction. A dedup collision rolls the whole batch back and the prior
// rows are returned instead, so readers never observe a partial split.
func (s *Store) PersistLogBatch(ctx context.Context, dedupKey string, entries []types.ProductionLogEntry) ([]types.ProductionLogEntry, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("beginning log batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize concurrent retries of the same delivery: the first insert
	// wins, the second sees its rows.
	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM production_log WHERE dedup_key = $1)`, dedupKey).Scan(&exists)
	if err != nil {
		return nil, false, fmt.Errorf("checking dedup key: %w", err)
	}
	if exists {
		prior, err := s.logEntriesByDedupKey(ctx, dedupKey)
		if err != nil {
			return nil, false, err
		}
		return prior, false, nil
	}

	for _, e := range entries {
		_, err := tx.Exec(ctx, `
			INSERT INTO production_log
				(id, machine_id, lane_id, product_sku, count, event_time, received_time, dedup_key, clock_corrected)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.ID, e.MachineID, e.LaneID, e.ProductSKU, e.Count,
			e.EventTime, e.ReceivedTime, e.DedupKey, e.ClockCorrected)
		if err != nil {
			if isUniqueViolation(err) {
				// Lost the race to a concurrent retry; surface its rows.
				_ = tx.Rollback(ctx)
				prior, lookupErr := s.logEntriesByDedupKey(ctx, dedupKey)
				if lookupErr != nil {
					return nil, false, lookupErr
				}
				return prior, false, nil
			}
			return nil, false, fmt.Errorf("inserting log row %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("committing log batch: %w", err)
	}
	return entries, true, nil
}

// MarkReconciled stamps a log row after its ledger entry is durable.
func (s *Store) MarkReconciled(ctx context.Context, machineID, entryID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE production_log SET reconciled_at = $1 WHERE machine_id = $2 AND id = $3`,
		at, machineID, entryID)
	if err != nil {
		return fmt.Errorf("marking log row %s reconciled: %w", entryID, err)
	}
	return nil
}

// AppendLedgerEntry appends one movement, conditional on (ref_doc, ref_lane).
func (s *Store) AppendLedgerEntry(ctx context.Context, e types.StockLedgerEntry) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO stock_ledger (txn_id, sku, change_qty, event_type, ref_doc, ref_lane, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ref_doc, ref_lane) DO NOTHING`,
		e.TxnID, e.SKU, e.ChangeQty, string(e.EventType), e.RefDoc, e.RefLane, e.Timestamp)
	if err != nil {
		return false, fmt.Errorf("appending ledger entry for %s: %w", e.RefDoc, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReplaceAnomalies swaps a machine's advisory findings wholesale.
func (s *Store) ReplaceAnomalies(ctx context.Context, machineID string, anomalies []types.Anomaly) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning anomaly replace: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM anomalies WHERE machine_id = $1`, machineID); err != nil {
		return fmt.Errorf("clearing anomalies for %s: %w", machineID, err)
	}
	for _, a := range anomalies {
		_, err := tx.Exec(ctx, `
			INSERT INTO anomalies (machine_id, kind, window_start, window_end, detail)
			VALUES ($1, $2, $3, $4, $5)`,
			machineID, string(a.Kind), a.WindowStart, a.WindowEnd, a.Detail)
		if err != nil {
			return fmt.Errorf("inserting anomaly: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// AppendIngestEvent appends one audit record.
func (s *Store) AppendIngestEvent(ctx context.Context, event types.IngestEvent) error {
	var details []byte
	if event.Details != nil {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return err
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingest_events (kind, machine_id, message, details, timestamp)
		VALUES ($1, $2, $3, $4, $5)`,
		string(event.Kind), event.MachineID, event.Message, details, event.Timestamp)
	return err
}

// AcquireLock takes a named lock for ttl. Expired locks are stolen.
func (s *Store) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO sweep_locks (key, expires_at) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE sweep_locks.expires_at < NOW()`,
		key, time.Now().Add(ttl))
	if err != nil {
		return false, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLock drops a named lock.
func (s *Store) ReleaseLock(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sweep_locks WHERE key = $1`, key)
	return err
}
