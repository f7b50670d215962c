// Package pipeline implements the production-event ingestion pipeline:
// resolve the active configuration snapshot, split the pulse across lanes,
// persist the rows idempotently, and trigger ledger reconciliation.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tallyline/tallyline/internal/ledger"
	"github.com/tallyline/tallyline/internal/metrics"
	"github.com/tallyline/tallyline/internal/split"
	"github.com/tallyline/tallyline/internal/store"
	"github.com/tallyline/tallyline/pkg/types"
)

// ErrInvalidRequest is returned for malformed device input (missing
// machine_id). The device must resend a corrected request.
var ErrInvalidRequest = errors.New("invalid request")

// Enqueuer hands a persisted log row to a deferred reconciliation queue.
type Enqueuer interface {
	EnqueueReconcile(ctx context.Context, machineID, entryID string) error
}

// Pipeline wires the ingest stages together. One instance serves all
// machines; per-event state is local, so requests run concurrently.
type Pipeline struct {
	store      store.Store
	reconciler *ledger.Reconciler
	mode       types.ReconcileMode
	queue      Enqueuer
	alertFn    func(types.Alert)
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Pipeline reconciling synchronously in the request path.
func New(s store.Store, r *ledger.Reconciler, alertFn func(types.Alert)) *Pipeline {
	if alertFn == nil {
		alertFn = func(types.Alert) {}
	}
	return &Pipeline{
		store:      s,
		reconciler: r,
		mode:       types.ReconcileSync,
		alertFn:    alertFn,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// SetReconcileMode switches between sync and queued reconciliation. In
// queued mode the optional enqueuer receives each persisted row; with no
// enqueuer the sweeper finds the rows by polling for missing markers.
func (p *Pipeline) SetReconcileMode(mode types.ReconcileMode, queue Enqueuer) {
	if mode != "" {
		p.mode = mode
	}
	p.queue = queue
}

// SetLogger overrides the default logger.
func (p *Pipeline) SetLogger(l *slog.Logger) {
	if l != nil {
		p.logger = l
	}
}

// SetClock overrides the time source (tests).
func (p *Pipeline) SetClock(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// Ingest processes one raw device signal end to end. The returned result is
// the durable acknowledgment: every split row has been persisted (or found
// already persisted) when this returns without error.
//
// Unknown machines and unresolved SKUs degrade to the UNKNOWN sentinel
// rather than failing; losing a real production pulse is worse than
// miscategorizing it. The only hard failures are ErrInvalidRequest and a
// log-write persistence failure.
func (p *Pipeline) Ingest(ctx context.Context, req types.IngestRequest) (*types.IngestResult, error) {
	if req.MachineID == "" {
		metrics.SignalsRejected.Add(1)
		return nil, fmt.Errorf("%w: machine_id is required", ErrInvalidRequest)
	}
	if req.PulseCount == 0 {
		req.PulseCount = 1
	}
	if req.PulseCount < 0 {
		metrics.SignalsRejected.Add(1)
		return nil, fmt.Errorf("%w: pulse_count must be positive", ErrInvalidRequest)
	}

	received := p.now()
	dedupKey := DedupKey(req, received)

	// One snapshot read per event. A concurrent retool applies only to
	// subsequent events.
	assignments, err := p.store.GetAssignments(ctx, req.MachineID)
	if err != nil {
		return nil, fmt.Errorf("resolving assignments for %s: %w", req.MachineID, err)
	}
	if len(assignments) == 0 {
		assignments = []types.ActiveAssignment{{
			MachineID:  req.MachineID,
			LaneID:     types.SentinelLaneID,
			ProductSKU: types.UnknownSKU,
		}}
		metrics.UnknownSKUIngests.Add(1)
		p.appendEvent(ctx, types.IngestEvent{
			Kind:      types.EventUnresolvedConfig,
			MachineID: req.MachineID,
			Message:   "no active assignment; degraded to UNKNOWN",
			Timestamp: received,
		})
		p.alertFn(types.Alert{
			Level:     types.AlertLevelWarning,
			MachineID: req.MachineID,
			Kind:      "UnresolvedConfiguration",
			Message:   fmt.Sprintf("machine %s has no active product assignment", req.MachineID),
			Timestamp: received,
		})
	}

	shares := split.Split(req.PulseCount, assignments, req.LaneID)

	eventTime, clockCorrected := sanitizeEventTime(req.EventTime, received)
	if clockCorrected {
		metrics.ClockCorrections.Add(1)
		p.appendEvent(ctx, types.IngestEvent{
			Kind:      types.EventClockCorrected,
			MachineID: req.MachineID,
			Message:   fmt.Sprintf("device time %s before sanity floor; using receipt time", req.EventTime.Format(time.RFC3339)),
			Timestamp: received,
		})
	}

	entries := make([]types.ProductionLogEntry, 0, len(shares))
	for _, share := range shares {
		entries = append(entries, types.ProductionLogEntry{
			ID:             ulid.MustNew(ulid.Timestamp(received), ulid.DefaultEntropy()).String(),
			MachineID:      req.MachineID,
			LaneID:         share.LaneID,
			ProductSKU:     share.SKU,
			Count:          share.Count,
			EventTime:      eventTime,
			ReceivedTime:   received,
			DedupKey:       dedupKey,
			ClockCorrected: clockCorrected,
		})
	}

	persisted, created, err := p.store.PersistLogBatch(ctx, dedupKey, entries)
	if err != nil {
		return nil, fmt.Errorf("persisting log batch for %s: %w", req.MachineID, err)
	}

	result := &types.IngestResult{
		Product:      primaryProduct(persisted),
		Entries:      persisted,
		Deduplicated: !created,
	}
	for _, e := range persisted {
		result.LoggedLanes = append(result.LoggedLanes, e.LaneID)
	}

	if !created {
		// Retried delivery: the prior rows are the acknowledgment. No new
		// writes, no second reconcile trigger.
		metrics.SignalsDeduplicated.Add(1)
		p.appendEvent(ctx, types.IngestEvent{
			Kind:      types.EventDuplicateDelivery,
			MachineID: req.MachineID,
			Message:   "dedup key already persisted",
			Details:   map[string]interface{}{"dedup_key": dedupKey},
			Timestamp: received,
		})
		return result, nil
	}

	metrics.SignalsIngested.Add(1)
	metrics.LogRowsPersisted.Add(int64(len(persisted)))
	p.appendEvent(ctx, types.IngestEvent{
		Kind:      types.EventIngested,
		MachineID: req.MachineID,
		Details: map[string]interface{}{
			"pulse_count": req.PulseCount,
			"lanes":       result.LoggedLanes,
		},
		Timestamp: received,
	})

	p.triggerReconcile(ctx, persisted)
	return result, nil
}

// triggerReconcile runs or defers reconciliation for freshly persisted
// rows. Failures never propagate to the device: the log rows are durable
// and the sweeper retries independently.
func (p *Pipeline) triggerReconcile(ctx context.Context, entries []types.ProductionLogEntry) {
	if p.mode == types.ReconcileQueued {
		metrics.ReconcileDeferred.Add(int64(len(entries)))
		for _, e := range entries {
			if p.queue == nil {
				continue // sweeper polls for unreconciled rows
			}
			if err := p.queue.EnqueueReconcile(ctx, e.MachineID, e.ID); err != nil {
				p.logger.Warn("failed to enqueue reconcile; sweeper will recover",
					"machine", e.MachineID, "entry", e.ID, "error", err)
			}
		}
		return
	}

	for _, e := range entries {
		if _, err := p.reconciler.Reconcile(ctx, e); err != nil {
			p.logger.Warn("reconciliation failed; sweeper will retry",
				"machine", e.MachineID, "entry", e.ID, "error", err)
			p.appendEvent(ctx, types.IngestEvent{
				Kind:      types.EventReconcileFailed,
				MachineID: e.MachineID,
				Message:   err.Error(),
				Timestamp: p.now(),
			})
		}
	}
}

func (p *Pipeline) appendEvent(ctx context.Context, event types.IngestEvent) {
	if err := p.store.AppendIngestEvent(ctx, event); err != nil {
		p.logger.Debug("failed to append ingest event", "kind", event.Kind, "error", err)
	}
}

// sanitizeEventTime applies the clock sanity floor: device times before
// 2000-01-01 (unsynced RTC after reboot) are replaced with the receipt
// time and flagged, never trusted as-is.
func sanitizeEventTime(eventTime *time.Time, received time.Time) (time.Time, bool) {
	if eventTime == nil || eventTime.IsZero() {
		return received, false
	}
	if eventTime.Before(types.ClockSanityFloor) {
		return received, true
	}
	return *eventTime, false
}

// primaryProduct reports the SKU for the acknowledgment: the single SKU
// when all rows agree, else the first lane's SKU in lane order.
func primaryProduct(entries []types.ProductionLogEntry) string {
	if len(entries) == 0 {
		return ""
	}
	return entries[0].ProductSKU
}

// DedupKey derives the idempotency key for a raw signal. Device-supplied
// sequence numbers give exact dedup; without one, the key falls back to
// (machine, count, receipt second) so an immediate retry of a timed-out
// request collapses into the original.
func DedupKey(req types.IngestRequest, received time.Time) string {
	h := sha256.New()
	if req.DeviceSequence != "" {
		fmt.Fprintf(h, "%s|%s", req.MachineID, req.DeviceSequence)
	} else {
		fmt.Fprintf(h, "%s|%d|%d", req.MachineID, req.PulseCount, received.Unix())
	}
	return hex.EncodeToString(h.Sum(nil))
}
