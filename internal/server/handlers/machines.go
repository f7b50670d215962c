package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tallyline/tallyline/internal/anomaly"
	"github.com/tallyline/tallyline/internal/store"
	"github.com/tallyline/tallyline/pkg/types"
)

// ListMachines returns the machine registry.
func (h *Handlers) ListMachines(w http.ResponseWriter, r *http.Request) {
	machines, err := h.store.ListMachines(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list machines", err)
		return
	}
	if machines == nil {
		machines = []types.Machine{}
	}
	_ = json.NewEncoder(w).Encode(machines)
}

// RegisterMachine creates or updates a machine registration.
func (h *Handlers) RegisterMachine(w http.ResponseWriter, r *http.Request) {
	var m types.Machine
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if m.MachineID == "" {
		h.writeError(w, http.StatusBadRequest, "machine_id is required", nil)
		return
	}
	if m.LaneCount < 1 {
		m.LaneCount = 1
	}
	m.CreatedAt = time.Now().UTC()

	if err := h.store.RegisterMachine(r.Context(), m); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to register machine", err)
		return
	}

	_ = h.store.AppendIngestEvent(r.Context(), types.IngestEvent{
		Kind:      types.EventMachineRegistered,
		MachineID: m.MachineID,
		Timestamp: time.Now().UTC(),
	})

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(m)
}

// GetMachine returns a single machine registration.
func (h *Handlers) GetMachine(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "machineID")
	m, err := h.store.GetMachine(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "machine not found", nil)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get machine", err)
		return
	}
	_ = json.NewEncoder(w).Encode(m)
}

// GetAssignments returns the machine's current lane assignments.
func (h *Handlers) GetAssignments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "machineID")
	assignments, err := h.store.GetAssignments(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to get assignments", err)
		return
	}
	if assignments == nil {
		assignments = []types.ActiveAssignment{}
	}
	_ = json.NewEncoder(w).Encode(assignments)
}

// ListLogs returns recent production log rows for a machine.
func (h *Handlers) ListLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "machineID")
	limit := limitParam(r, 50, 500)

	entries, err := h.store.ListLogEntries(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list log entries", err)
		return
	}
	if entries == nil {
		entries = []types.ProductionLogEntry{}
	}
	_ = json.NewEncoder(w).Encode(entries)
}

// ScanAnomalies runs an on-demand anomaly scan over the machine's recent log
// window. Findings are computed fresh, not read from the sweeper's cache.
func (h *Handlers) ScanAnomalies(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "machineID")
	limit := limitParam(r, 500, 2000)

	cfg := h.scanCfg
	if m, err := h.store.GetMachine(r.Context(), id); err == nil && m.ExpectedCycleSeconds > 0 {
		cfg.ExpectedCycle = time.Duration(m.ExpectedCycleSeconds) * time.Second
	}

	entries, err := h.store.ListLogEntries(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list log entries", err)
		return
	}

	findings := anomaly.Scan(id, entries, cfg)
	if findings == nil {
		findings = []types.Anomaly{}
	}
	_ = json.NewEncoder(w).Encode(findings)
}

// ListEvents returns recent audit events for a machine.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "machineID")
	limit := limitParam(r, 50, 500)

	events, err := h.store.ListIngestEvents(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to list events", err)
		return
	}
	if events == nil {
		events = []types.IngestEvent{}
	}
	_ = json.NewEncoder(w).Encode(events)
}
