// Package sweeper implements the background recovery and anomaly-scan
// loop. It is the at-least-once half of reconciliation: any log row the
// request path failed to reconcile (crash, ledger outage, queued mode) is
// picked up here and replayed through the idempotent reconciler.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tallyline/tallyline/internal/anomaly"
	"github.com/tallyline/tallyline/internal/ledger"
	"github.com/tallyline/tallyline/internal/metrics"
	"github.com/tallyline/tallyline/internal/queue"
	"github.com/tallyline/tallyline/internal/store"
	"github.com/tallyline/tallyline/pkg/types"
)

// Defaults for unset Config fields.
const (
	DefaultInterval    = 30 * time.Second
	DefaultConcurrency = 4
	DefaultScanWindow  = 500
	defaultBatchLimit  = 100
)

// Config holds sweeper settings resolved from project configuration.
type Config struct {
	Interval    time.Duration
	Concurrency int
	ScanWindow  int // log rows fed to each anomaly scan
	Anomaly     anomaly.Config
	// DefaultCycle applies to machines without ExpectedCycleSeconds.
	DefaultCycle time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.ScanWindow <= 0 {
		c.ScanWindow = DefaultScanWindow
	}
	return c
}

// Sweeper periodically reconciles stragglers and refreshes anomaly
// findings, one machine at a time under a store-level lock so multiple
// instances never double-process a machine.
type Sweeper struct {
	store      store.Store
	reconciler *ledger.Reconciler
	alertFn    func(types.Alert)
	logger     *slog.Logger
	config     Config
	queue      queue.Receiver

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Sweeper.
func New(s store.Store, r *ledger.Reconciler, alertFn func(types.Alert), logger *slog.Logger, cfg Config) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if alertFn == nil {
		alertFn = func(types.Alert) {}
	}
	return &Sweeper{
		store:      s,
		reconciler: r,
		alertFn:    alertFn,
		logger:     logger,
		config:     cfg.withDefaults(),
	}
}

// SetQueue attaches a deferred-reconciliation queue drained each cycle.
func (s *Sweeper) SetQueue(q queue.Receiver) {
	s.queue = q
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("sweeper started", "interval", s.config.Interval)

		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		// Run immediately on start
		s.Sweep(ctx)

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("sweeper stopping")
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop gracefully shuts down the sweeper.
func (s *Sweeper) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("sweeper stopped")
	case <-ctx.Done():
		s.logger.Warn("sweeper stop timed out")
	}
}

// Sweep runs one full cycle: drain the queue if attached, then fan out
// across machines. Also callable on demand (CLI `sweep` command).
func (s *Sweeper) Sweep(ctx context.Context) {
	metrics.SweepCycles.Add(1)

	if s.queue != nil {
		s.drainQueue(ctx)
	}

	machines, err := s.store.ListMachines(ctx)
	if err != nil {
		s.logger.Error("failed to list machines", "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for _, m := range machines {
		g.Go(func() error {
			s.sweepMachine(gctx, m)
			return nil
		})
	}
	_ = g.Wait()
}

// sweepMachine reconciles a machine's stragglers and refreshes its anomaly
// findings. Errors are logged, never fatal; the next cycle retries.
func (s *Sweeper) sweepMachine(ctx context.Context, m types.Machine) {
	lockKey := "sweep:" + m.MachineID
	acquired, err := s.store.AcquireLock(ctx, lockKey, s.config.Interval*2)
	if err != nil {
		s.logger.Error("failed to acquire sweep lock", "machine", m.MachineID, "error", err)
		return
	}
	if !acquired {
		return // another instance is handling this machine
	}
	defer func() {
		if err := s.store.ReleaseLock(ctx, lockKey); err != nil {
			s.logger.Error("failed to release sweep lock", "machine", m.MachineID, "error", err)
		}
	}()

	s.reconcileStragglers(ctx, m.MachineID)
	s.refreshAnomalies(ctx, m)
}

func (s *Sweeper) reconcileStragglers(ctx context.Context, machineID string) {
	entries, err := s.store.ListUnreconciled(ctx, machineID, defaultBatchLimit)
	if err != nil {
		s.logger.Error("failed to list unreconciled rows", "machine", machineID, "error", err)
		return
	}

	// One attempt per row per cycle; failed rows stay unmarked and the
	// next cycle retries them.
	failed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.reconciler.Reconcile(ctx, e); err != nil {
			failed++
		}
	}
	if failed > 0 {
		s.logger.Warn("leaving rows for next sweep cycle",
			"machine", machineID, "remaining", failed)
	}
}

func (s *Sweeper) refreshAnomalies(ctx context.Context, m types.Machine) {
	entries, err := s.store.ListLogEntries(ctx, m.MachineID, s.config.ScanWindow)
	if err != nil {
		s.logger.Error("failed to list log entries for scan", "machine", m.MachineID, "error", err)
		return
	}

	cfg := s.config.Anomaly
	cfg.ExpectedCycle = s.cycleFor(m)

	prior, err := s.store.ListAnomalies(ctx, m.MachineID)
	if err != nil {
		s.logger.Error("failed to list prior anomalies", "machine", m.MachineID, "error", err)
		prior = nil
	}

	found := anomaly.Scan(m.MachineID, entries, cfg)
	if err := s.store.ReplaceAnomalies(ctx, m.MachineID, found); err != nil {
		s.logger.Error("failed to store anomalies", "machine", m.MachineID, "error", err)
		return
	}

	for _, a := range newFindings(prior, found) {
		metrics.AnomaliesDetected.Add(1)
		s.alertFn(types.Alert{
			Level:     types.AlertLevelWarning,
			MachineID: a.MachineID,
			Kind:      string(a.Kind),
			Message:   fmt.Sprintf("%s %s–%s: %s", a.Kind, a.WindowStart.Format(time.RFC3339), a.WindowEnd.Format(time.RFC3339), a.Detail),
			Timestamp: time.Now(),
		})
	}
}

func (s *Sweeper) cycleFor(m types.Machine) time.Duration {
	if m.ExpectedCycleSeconds > 0 {
		return time.Duration(m.ExpectedCycleSeconds) * time.Second
	}
	return s.config.DefaultCycle
}

// newFindings returns anomalies in found that were not present in prior,
// so re-scans do not re-alert on known windows.
func newFindings(prior, found []types.Anomaly) []types.Anomaly {
	seen := make(map[string]bool, len(prior))
	for _, a := range prior {
		seen[anomalyKey(a)] = true
	}
	var out []types.Anomaly
	for _, a := range found {
		if !seen[anomalyKey(a)] {
			out = append(out, a)
		}
	}
	return out
}

func anomalyKey(a types.Anomaly) string {
	return string(a.Kind) + "|" + a.WindowStart.UTC().Format(time.RFC3339Nano) + "|" + a.WindowEnd.UTC().Format(time.RFC3339Nano)
}

func (s *Sweeper) drainQueue(ctx context.Context) {
	for {
		tasks, err := s.queue.Receive(ctx, 10)
		if err != nil {
			s.logger.Error("failed to receive reconcile tasks", "error", err)
			return
		}
		if len(tasks) == 0 {
			return
		}
		for _, task := range tasks {
			entry, err := s.store.GetLogEntry(ctx, task.MachineID, task.EntryID)
			if err != nil {
				s.logger.Warn("queued log row not found", "machine", task.MachineID, "entry", task.EntryID, "error", err)
				_ = s.queue.Delete(ctx, task)
				continue
			}
			if _, err := s.reconciler.Reconcile(ctx, *entry); err != nil {
				// Leave the message; visibility timeout redelivers it.
				s.logger.Warn("queued reconcile failed", "entry", task.EntryID, "error", err)
				continue
			}
			_ = s.queue.Delete(ctx, task)
		}
	}
}
