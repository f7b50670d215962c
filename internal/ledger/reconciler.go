// Package ledger implements the stock-ledger reconciler: it derives one
// signed inventory movement from each production log row and appends it
// exactly once.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sony/gobreaker"

	"github.com/tallyline/tallyline/internal/metrics"
	"github.com/tallyline/tallyline/internal/store"
	"github.com/tallyline/tallyline/pkg/types"
)

// Reconciler turns durable log rows into ledger entries. It is safe to call
// any number of times for the same row: the conditional append on
// (ref_doc, lane) makes replays no-ops. The log row is the source of truth;
// the ledger entry is a derived projection.
type Reconciler struct {
	store   store.Store
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Reconciler. The circuit breaker fails fast while the ledger
// backend is down so ingestion latency stays bounded; the sweeper picks the
// rows up later.
func New(s store.Store) *Reconciler {
	settings := gobreaker.Settings{
		Name: "stock-ledger",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		Timeout: 30 * time.Second,
	}
	return &Reconciler{
		store:   s,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  slog.Default(),
		now:     time.Now,
	}
}

// SetLogger overrides the default logger.
func (r *Reconciler) SetLogger(l *slog.Logger) {
	if l != nil {
		r.logger = l
	}
}

// SetClock overrides the time source (tests).
func (r *Reconciler) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Reconcile derives and appends the ledger entry for one log row, then
// stamps the row reconciled. Returns the appended entry, or nil when an
// entry for this row already existed (idempotent no-op). UNKNOWN-sku rows
// are reconciled like any other so observed quantity is never dropped; they
// stay distinguishable by SKU for later reattribution.
func (r *Reconciler) Reconcile(ctx context.Context, entry types.ProductionLogEntry) (*types.StockLedgerEntry, error) {
	movement := types.StockLedgerEntry{
		TxnID:     ulid.MustNew(ulid.Timestamp(r.now()), ulid.DefaultEntropy()).String(),
		SKU:       entry.ProductSKU,
		ChangeQty: entry.Count, // finished-goods production increases stock
		EventType: types.EventProduction,
		RefDoc:    entry.ID,
		RefLane:   entry.LaneID,
		Timestamp: r.now(),
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		created, err := r.store.AppendLedgerEntry(ctx, movement)
		if err != nil {
			return nil, err
		}
		return created, nil
	})
	if err != nil {
		metrics.ReconcileFailures.Add(1)
		return nil, fmt.Errorf("appending ledger entry for log %s: %w", entry.ID, err)
	}

	created := result.(bool)
	if err := r.store.MarkReconciled(ctx, entry.MachineID, entry.ID, r.now()); err != nil {
		// The ledger write is durable; the marker is bookkeeping. The
		// sweeper will retry and hit the no-op path.
		r.logger.Warn("failed to mark log row reconciled",
			"machine", entry.MachineID, "entry", entry.ID, "error", err)
	}

	if !created {
		metrics.ReconcileNoops.Add(1)
		return nil, nil
	}
	metrics.LedgerAppends.Add(1)
	return &movement, nil
}
