package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tallyline/tallyline/internal/store"
	"github.com/tallyline/tallyline/pkg/types"
)

const defaultLimit = 50

// GetMachine returns one machine registration.
func (s *Store) GetMachine(ctx context.Context, machineID string) (*types.Machine, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT machine_id, factory_id, name, lane_count, expected_cycle_seconds, created_at
		FROM machines WHERE machine_id = $1`, machineID)

	var m types.Machine
	err := row.Scan(&m.MachineID, &m.FactoryID, &m.Name, &m.LaneCount, &m.ExpectedCycleSeconds, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading machine %s: %w", machineID, err)
	}
	return &m, nil
}

// ListMachines returns all machine registrations.
func (s *Store) ListMachines(ctx context.Context) ([]types.Machine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT machine_id, factory_id, name, lane_count, expected_cycle_seconds, created_at
		FROM machines ORDER BY machine_id`)
	if err != nil {
		return nil, fmt.Errorf("listing machines: %w", err)
	}
	defer rows.Close()

	var out []types.Machine
	for rows.Next() {
		var m types.Machine
		if err := rows.Scan(&m.MachineID, &m.FactoryID, &m.Name, &m.LaneCount, &m.ExpectedCycleSeconds, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetAssignments returns a machine's lane assignments ordered by lane.
// This is the pipeline's per-event snapshot read.
func (s *Store) GetAssignments(ctx context.Context, machineID string) ([]types.ActiveAssignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT machine_id, lane_id, product_sku, updated_at
		FROM active_assignments WHERE machine_id = $1 ORDER BY lane_id`, machineID)
	if err != nil {
		return nil, fmt.Errorf("loading assignments for %s: %w", machineID, err)
	}
	defer rows.Close()

	var out []types.ActiveAssignment
	for rows.Next() {
		var a types.ActiveAssignment
		if err := rows.Scan(&a.MachineID, &a.LaneID, &a.ProductSKU, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const logColumns = `id, machine_id, lane_id, product_sku, count, event_time, received_time, dedup_key, clock_corrected, reconciled_at`

func scanLogEntry(row pgx.Row) (types.ProductionLogEntry, error) {
	var e types.ProductionLogEntry
	err := row.Scan(&e.ID, &e.MachineID, &e.LaneID, &e.ProductSKU, &e.Count,
		&e.EventTime, &e.ReceivedTime, &e.DedupKey, &e.ClockCorrected, &e.ReconciledAt)
	return e, err
}

func collectLogEntries(rows pgx.Rows) ([]types.ProductionLogEntry, error) {
	defer rows.Close()
	var out []types.ProductionLogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetLogEntry returns one production log row.
func (s *Store) GetLogEntry(ctx context.Context, machineID, entryID string) (*types.ProductionLogEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+logColumns+` FROM production_log WHERE machine_id = $1 AND id = $2`,
		machineID, entryID)
	e, err := scanLogEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading log row %s: %w", entryID, err)
	}
	return &e, nil
}

// ListLogEntries returns a machine's most recent rows in event-time order.
func (s *Store) ListLogEntries(ctx context.Context, machineID string, limit int) ([]types.ProductionLogEntry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+logColumns+` FROM (
			SELECT `+logColumns+` FROM production_log
			WHERE machine_id = $1 ORDER BY event_time DESC LIMIT $2
		) recent ORDER BY event_time`, machineID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing log rows for %s: %w", machineID, err)
	}
	return collectLogEntries(rows)
}

// ListUnreconciled returns rows with no ledger projection yet, oldest first.
func (s *Store) ListUnreconciled(ctx context.Context, machineID string, limit int) ([]types.ProductionLogEntry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+logColumns+` FROM production_log
		WHERE machine_id = $1 AND reconciled_at IS NULL
		ORDER BY received_time LIMIT $2`, machineID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unreconciled rows for %s: %w", machineID, err)
	}
	return collectLogEntries(rows)
}

func (s *Store) logEntriesByDedupKey(ctx context.Context, dedupKey string) ([]types.ProductionLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+logColumns+` FROM production_log WHERE dedup_key = $1 ORDER BY lane_id`, dedupKey)
	if err != nil {
		return nil, fmt.Errorf("loading rows for dedup key: %w", err)
	}
	return collectLogEntries(rows)
}

// ListLedgerEntries returns recent movements, optionally filtered by SKU.
func (s *Store) ListLedgerEntries(ctx context.Context, sku string, limit int) ([]types.StockLedgerEntry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	query := `SELECT txn_id, sku, change_qty, event_type, ref_doc, ref_lane, timestamp FROM stock_ledger`
	args := []interface{}{}
	if sku != "" {
		query += ` WHERE sku = $1 ORDER BY timestamp DESC LIMIT $2`
		args = append(args, sku, limit)
	} else {
		query += ` ORDER BY timestamp DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing ledger entries: %w", err)
	}
	defer rows.Close()

	var out []types.StockLedgerEntry
	for rows.Next() {
		var e types.StockLedgerEntry
		var eventType string
		if err := rows.Scan(&e.TxnID, &e.SKU, &e.ChangeQty, &eventType, &e.RefDoc, &e.RefLane, &e.Timestamp); err != nil {
			return nil, err
		}
		e.EventType = types.EventType(eventType)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListAnomalies returns a machine's current advisory findings.
func (s *Store) ListAnomalies(ctx context.Context, machineID string) ([]types.Anomaly, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT machine_id, kind, window_start, window_end, detail
		FROM anomalies WHERE machine_id = $1 ORDER BY window_start`, machineID)
	if err != nil {
		return nil, fmt.Errorf("listing anomalies for %s: %w", machineID, err)
	}
	defer rows.Close()

	var out []types.Anomaly
	for rows.Next() {
		var a types.Anomaly
		var kind string
		if err := rows.Scan(&a.MachineID, &kind, &a.WindowStart, &a.WindowEnd, &a.Detail); err != nil {
			return nil, err
		}
		a.Kind = types.AnomalyKind(kind)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListIngestEvents returns recent audit records for a machine.
func (s *Store) ListIngestEvents(ctx context.Context, machineID string, limit int) ([]types.IngestEvent, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT kind, machine_id, message, details, timestamp FROM (
			SELECT kind, machine_id, message, details, timestamp
			FROM ingest_events WHERE machine_id = $1
			ORDER BY timestamp DESC LIMIT $2
		) recent ORDER BY timestamp`, machineID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing ingest events for %s: %w", machineID, err)
	}
	defer rows.Close()

	var out []types.IngestEvent
	for rows.Next() {
		var e types.IngestEvent
		var kind string
		var message *string
		var details []byte
		if err := rows.Scan(&kind, &e.MachineID, &message, &details, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Kind = types.IngestEventKind(kind)
		if message != nil {
			e.Message = *message
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "23505")
}
