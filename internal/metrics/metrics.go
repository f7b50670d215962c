// Package metrics exposes runtime counters via expvar.
package metrics

import "expvar"

var (
	SignalsIngested     = expvar.NewInt("signals_ingested")
	SignalsRejected     = expvar.NewInt("signals_rejected")
	SignalsDeduplicated = expvar.NewInt("signals_deduplicated")
	LogRowsPersisted    = expvar.NewInt("log_rows_persisted")
	UnknownSKUIngests   = expvar.NewInt("unknown_sku_ingests")
	ClockCorrections    = expvar.NewInt("clock_corrections")
	LedgerAppends       = expvar.NewInt("ledger_appends")
	ReconcileNoops      = expvar.NewInt("reconcile_noops")
	ReconcileFailures   = expvar.NewInt("reconcile_failures")
	ReconcileDeferred   = expvar.NewInt("reconcile_deferred")
	SweepCycles         = expvar.NewInt("sweep_cycles")
	AnomaliesDetected   = expvar.NewInt("anomalies_detected")
	AlertsDispatched    = expvar.NewInt("alerts_dispatched")
	AlertsFailed        = expvar.NewInt("alerts_failed")
)
