// Package types defines the public domain types for the Tallyline
// production-event ingestion and stock-ledger pipeline.
package types

import "time"

// UnknownSKU is the sentinel product identifier used when no active
// assignment can be resolved for a machine. Quantity produced against it is
// preserved and reattributed later by an operator.
const UnknownSKU = "UNKNOWN"

// SentinelLaneID is the lane used for the synthetic UNKNOWN assignment.
const SentinelLaneID = 0

// ClockSanityFloor is the earliest device timestamp the pipeline will trust.
// Controllers that reboot with an unsynced RTC report times at or near the
// Unix epoch; anything before this floor is replaced with the server receipt
// time and flagged.
var ClockSanityFloor = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Machine is a registered production machine.
type Machine struct {
	MachineID string `yaml:"machineId" json:"machine_id"`
	FactoryID string `yaml:"factoryId,omitempty" json:"factory_id,omitempty"`
	Name      string `yaml:"name,omitempty" json:"name,omitempty"`
	LaneCount int    `yaml:"laneCount" json:"lane_count"`
	// ExpectedCycleSeconds is the nominal seconds between pulses when the
	// machine runs normally; used by the anomaly scan. Zero means unknown.
	ExpectedCycleSeconds int       `yaml:"expectedCycleSeconds,omitempty" json:"expected_cycle_seconds,omitempty"`
	CreatedAt            time.Time `yaml:"-" json:"created_at"`
}

// ActiveAssignment maps one lane of a machine to the SKU currently being
// produced on it. Point-in-time only; history lives in the production log.
type ActiveAssignment struct {
	MachineID  string    `json:"machine_id"`
	LaneID     int       `json:"lane_id"`
	ProductSKU string    `json:"product_sku"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProductionLogEntry is one durable, immutable per-lane production record.
type ProductionLogEntry struct {
	ID             string     `json:"id"`
	MachineID      string     `json:"machine_id"`
	LaneID         int        `json:"lane_id"`
	ProductSKU     string     `json:"product_sku"`
	Count          int        `json:"count"`
	EventTime      time.Time  `json:"event_time"`
	ReceivedTime   time.Time  `json:"received_time"`
	DedupKey       string     `json:"dedup_key"`
	ClockCorrected bool       `json:"clock_corrected,omitempty"`
	ReconciledAt   *time.Time `json:"reconciled_at,omitempty"`
}

// StockLedgerEntry is one signed, append-only inventory movement derived
// from exactly one production log entry.
type StockLedgerEntry struct {
	TxnID     string    `json:"txn_id"`
	SKU       string    `json:"sku"`
	ChangeQty int       `json:"change_qty"`
	EventType EventType `json:"event_type"`
	RefDoc    string    `json:"ref_doc"`
	RefLane   int       `json:"ref_lane"`
	Timestamp time.Time `json:"timestamp"`
}

// Anomaly is an advisory data-quality finding over one machine's log stream.
// Derived and freely recomputable; never load-bearing for the ledger.
type Anomaly struct {
	MachineID   string      `json:"machine_id"`
	Kind        AnomalyKind `json:"kind"`
	WindowStart time.Time   `json:"window_start"`
	WindowEnd   time.Time   `json:"window_end"`
	Detail      string      `json:"detail,omitempty"`
}

// IngestRequest is the validated input contract of the ingestion endpoint.
// PulseCount defaults to 1 when the device omits it. LaneID, when set,
// attributes the whole count to that lane with no splitting.
type IngestRequest struct {
	MachineID      string
	PulseCount     int
	DeviceSequence string
	LaneID         *int
	EventTime      *time.Time
}

// IngestResult is the acknowledgment returned once all split rows are
// durable. Deduplicated is true when the request replayed a previously
// persisted event.
type IngestResult struct {
	Product      string
	LoggedLanes  []int
	Entries      []ProductionLogEntry
	Deduplicated bool
}

// IngestEvent is a best-effort audit record of pipeline activity
// (ingests, dedup hits, degraded resolutions). Advisory only.
type IngestEvent struct {
	Kind      IngestEventKind        `json:"kind"`
	MachineID string                 `json:"machine_id"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Alert is an advisory notification dispatched to configured sinks.
type Alert struct {
	Level     AlertLevel `json:"level"`
	MachineID string     `json:"machine_id,omitempty"`
	Kind      string     `json:"kind,omitempty"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}
