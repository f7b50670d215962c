package types

// EventType classifies a stock ledger movement.
type EventType string

// EventType values. Production is the only type the pipeline emits today;
// the ledger schema is shared with manual corrections downstream.
const (
	EventProduction EventType = "Production"
)

// AnomalyKind classifies an advisory anomaly finding.
type AnomalyKind string

// AnomalyKind values.
const (
	AnomalyMissedCycle   AnomalyKind = "MissedCycle"
	AnomalyBufferedBurst AnomalyKind = "BufferedBurst"
	AnomalyClockInvalid  AnomalyKind = "ClockInvalid"
)

// IngestEventKind classifies audit records on the ingest trail.
type IngestEventKind string

// IngestEventKind values.
const (
	EventIngested          IngestEventKind = "INGESTED"
	EventDuplicateDelivery IngestEventKind = "DUPLICATE_DELIVERY"
	EventUnresolvedConfig  IngestEventKind = "UNRESOLVED_CONFIG"
	EventClockCorrected    IngestEventKind = "CLOCK_CORRECTED"
	EventReconciled        IngestEventKind = "RECONCILED"
	EventReconcileDeferred IngestEventKind = "RECONCILE_DEFERRED"
	EventReconcileFailed   IngestEventKind = "RECONCILE_FAILED"
	EventMachineRegistered IngestEventKind = "MACHINE_REGISTERED"
	EventAssignmentChanged IngestEventKind = "ASSIGNMENT_CHANGED"
)

// AlertLevel indicates alert severity.
type AlertLevel string

// AlertLevel values.
const (
	AlertLevelInfo    AlertLevel = "info"
	AlertLevelWarning AlertLevel = "warning"
	AlertLevelError   AlertLevel = "error"
)

// ReconcileMode selects when ledger reconciliation runs relative to ingest.
type ReconcileMode string

// ReconcileMode values. Sync reconciles in the request path after the log
// batch is durable; Queued defers entirely to the sweeper (or SQS queue).
const (
	ReconcileSync   ReconcileMode = "sync"
	ReconcileQueued ReconcileMode = "queued"
)
