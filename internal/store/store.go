// Package store defines the storage backend interface for Tallyline.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tallyline/tallyline/pkg/types"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// Store is the storage backend interface. Backed by DynamoDB, Postgres, or
// Redis in production and by an in-memory mock in tests. Row shapes and the
// uniqueness guarantees (dedup key, ledger ref_doc+lane) are the contract;
// everything else is backend detail.
type Store interface {
	// Machine registry
	RegisterMachine(ctx context.Context, m types.Machine) error
	GetMachine(ctx context.Context, machineID string) (*types.Machine, error)
	ListMachines(ctx context.Context) ([]types.Machine, error)

	// Active product assignments. GetAssignments returns the lanes ordered
	// by lane ID and is the single snapshot read used per ingested event.
	PutAssignment(ctx context.Context, a types.ActiveAssignment) error
	GetAssignments(ctx context.Context, machineID string) ([]types.ActiveAssignment, error)

	// Production log, append-only. PersistLogBatch writes all entries for
	// one ingested event atomically, keyed by dedupKey. When the dedup key
	// was already persisted it returns the prior rows and created=false
	// without writing anything.
	PersistLogBatch(ctx context.Context, dedupKey string, entries []types.ProductionLogEntry) (persisted []types.ProductionLogEntry, created bool, err error)
	GetLogEntry(ctx context.Context, machineID, entryID string) (*types.ProductionLogEntry, error)
	ListLogEntries(ctx context.Context, machineID string, limit int) ([]types.ProductionLogEntry, error)

	// Reconciliation bookkeeping. ListUnreconciled returns log rows with no
	// reconciled_at marker, oldest first. MarkReconciled stamps a row after
	// its ledger entry is durable (or confirmed already present).
	ListUnreconciled(ctx context.Context, machineID string, limit int) ([]types.ProductionLogEntry, error)
	MarkReconciled(ctx context.Context, machineID, entryID string, at time.Time) error

	// Stock ledger, append-only. AppendLedgerEntry is conditional on
	// (ref_doc, ref_lane): created=false means an entry for that log row
	// already exists and nothing was written.
	AppendLedgerEntry(ctx context.Context, e types.StockLedgerEntry) (created bool, err error)
	ListLedgerEntries(ctx context.Context, sku string, limit int) ([]types.StockLedgerEntry, error)

	// Anomalies, derived and freely recomputable.
	ReplaceAnomalies(ctx context.Context, machineID string, anomalies []types.Anomaly) error
	ListAnomalies(ctx context.Context, machineID string) ([]types.Anomaly, error)

	// Audit trail, best-effort.
	AppendIngestEvent(ctx context.Context, event types.IngestEvent) error
	ListIngestEvents(ctx context.Context, machineID string, limit int) ([]types.IngestEvent, error)

	// Locks for sweeper coordination across instances.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error

	// Lifecycle
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Ping(ctx context.Context) error
}
