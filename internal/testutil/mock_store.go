// Package testutil provides shared test utilities for Tallyline.
package testutil

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tallyline/tallyline/internal/store"
	"github.com/tallyline/tallyline/pkg/types"
)

// Compile-time interface satisfaction check.
var _ store.Store = (*MockStore)(nil)

// MockStore is an in-memory Store implementation for testing. It enforces
// the same uniqueness guarantees as the real backends (dedup key, ledger
// ref_doc+lane) so pipeline tests exercise real replay behavior.
type MockStore struct {
	mu          sync.Mutex
	machines    map[string]types.Machine
	assignments map[string][]types.ActiveAssignment // machineID -> lanes
	logs        map[string][]types.ProductionLogEntry
	dedup       map[string][]string // dedupKey -> entry IDs
	ledger      []types.StockLedgerEntry
	ledgerRefs  map[string]bool // "refDoc#lane"
	anomalies   map[string][]types.Anomaly
	events      []types.IngestEvent
	locks       map[string]time.Time

	// FailLedger makes AppendLedgerEntry fail, simulating a downstream
	// outage for reconciliation retry tests.
	FailLedger error
	// FailPersist makes PersistLogBatch fail.
	FailPersist error
}

// NewMockStore creates a new in-memory mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		machines:    make(map[string]types.Machine),
		assignments: make(map[string][]types.ActiveAssignment),
		logs:        make(map[string][]types.ProductionLogEntry),
		dedup:       make(map[string][]string),
		ledgerRefs:  make(map[string]bool),
		anomalies:   make(map[string][]types.Anomaly),
		locks:       make(map[string]time.Time),
	}
}

func (m *MockStore) RegisterMachine(_ context.Context, machine types.Machine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.machines[machine.MachineID] = machine
	return nil
}

func (m *MockStore) GetMachine(_ context.Context, machineID string) (*types.Machine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	machine, ok := m.machines[machineID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &machine, nil
}

func (m *MockStore) ListMachines(_ context.Context) ([]types.Machine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Machine, 0, len(m.machines))
	for _, machine := range m.machines {
		out = append(out, machine)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MachineID < out[j].MachineID })
	return out, nil
}

func (m *MockStore) PutAssignment(_ context.Context, a types.ActiveAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lanes := m.assignments[a.MachineID]
	for i, existing := range lanes {
		if existing.LaneID == a.LaneID {
			lanes[i] = a
			return nil
		}
	}
	lanes = append(lanes, a)
	sort.Slice(lanes, func(i, j int) bool { return lanes[i].LaneID < lanes[j].LaneID })
	m.assignments[a.MachineID] = lanes
	return nil
}

func (m *MockStore) GetAssignments(_ context.Context, machineID string) ([]types.ActiveAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lanes := m.assignments[machineID]
	out := make([]types.ActiveAssignment, len(lanes))
	copy(out, lanes)
	return out, nil
}

func (m *MockStore) PersistLogBatch(_ context.Context, dedupKey string, entries []types.ProductionLogEntry) ([]types.ProductionLogEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPersist != nil {
		return nil, false, m.FailPersist
	}

	if ids, seen := m.dedup[dedupKey]; seen {
		return m.entriesByID(ids), false, nil
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		m.logs[e.MachineID] = append(m.logs[e.MachineID], e)
		ids = append(ids, e.ID)
	}
	m.dedup[dedupKey] = ids
	return entries, true, nil
}

// entriesByID resolves prior rows for an idempotent replay. Caller holds mu.
func (m *MockStore) entriesByID(ids []string) []types.ProductionLogEntry {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []types.ProductionLogEntry
	for _, entries := range m.logs {
		for _, e := range entries {
			if want[e.ID] {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MockStore) GetLogEntry(_ context.Context, machineID, entryID string) (*types.ProductionLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.logs[machineID] {
		if e.ID == entryID {
			entry := e
			return &entry, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *MockStore) ListLogEntries(_ context.Context, machineID string, limit int) ([]types.ProductionLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.logs[machineID]
	out := make([]types.ProductionLogEntry, len(entries))
	copy(out, entries)
	sort.Slice(out, func(i, j int) bool { return out[i].EventTime.Before(out[j].EventTime) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MockStore) ListUnreconciled(_ context.Context, machineID string, limit int) ([]types.ProductionLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.ProductionLogEntry
	for _, e := range m.logs[machineID] {
		if e.ReconciledAt == nil {
			out = append(out, e)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MockStore) MarkReconciled(_ context.Context, machineID, entryID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.logs[machineID]
	for i, e := range entries {
		if e.ID == entryID {
			entries[i].ReconciledAt = &at
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *MockStore) AppendLedgerEntry(_ context.Context, e types.StockLedgerEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailLedger != nil {
		return false, m.FailLedger
	}
	ref := ledgerRefKey(e.RefDoc, e.RefLane)
	if m.ledgerRefs[ref] {
		return false, nil
	}
	m.ledgerRefs[ref] = true
	m.ledger = append(m.ledger, e)
	return true, nil
}

func (m *MockStore) ListLedgerEntries(_ context.Context, sku string, limit int) ([]types.StockLedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.StockLedgerEntry
	for _, e := range m.ledger {
		if sku == "" || e.SKU == sku {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MockStore) ReplaceAnomalies(_ context.Context, machineID string, anomalies []types.Anomaly) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Anomaly, len(anomalies))
	copy(out, anomalies)
	m.anomalies[machineID] = out
	return nil
}

func (m *MockStore) ListAnomalies(_ context.Context, machineID string) ([]types.Anomaly, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Anomaly, len(m.anomalies[machineID]))
	copy(out, m.anomalies[machineID])
	return out, nil
}

func (m *MockStore) AppendIngestEvent(_ context.Context, event types.IngestEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MockStore) ListIngestEvents(_ context.Context, machineID string, limit int) ([]types.IngestEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.IngestEvent
	for _, e := range m.events {
		if machineID == "" || e.MachineID == machineID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *MockStore) AcquireLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expiry, held := m.locks[key]; held && time.Now().Before(expiry) {
		return false, nil
	}
	m.locks[key] = time.Now().Add(ttl)
	return true, nil
}

func (m *MockStore) ReleaseLock(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
	return nil
}

func (m *MockStore) Start(context.Context) error { return nil }
func (m *MockStore) Stop(context.Context) error  { return nil }
func (m *MockStore) Ping(context.Context) error  { return nil }

// LedgerEntryForRef returns the ledger entry referencing a log row, if any.
func (m *MockStore) LedgerEntryForRef(refDoc string, lane int) *types.StockLedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.ledger {
		if e.RefDoc == refDoc && e.RefLane == lane {
			entry := e
			return &entry
		}
	}
	return nil
}

// LedgerSize returns the total number of ledger entries.
func (m *MockStore) LedgerSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ledger)
}

// EventsOfKind returns recorded audit events of one kind.
func (m *MockStore) EventsOfKind(kind types.IngestEventKind) []types.IngestEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.IngestEvent
	for _, e := range m.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func ledgerRefKey(refDoc string, lane int) string {
	return refDoc + "#" + strconv.Itoa(lane)
}
