// Package postgres implements the Store interface on PostgreSQL. The
// pipeline's two uniqueness guarantees live in the schema itself: the dedup
// key index makes replayed deliveries collide instead of double-counting,
// and the (ref_doc, ref_lane) index makes reconciliation replays no-ops.
package postgres

const schemaDDL = `
CREATE TABLE IF NOT EXISTS machines (
    machine_id             TEXT PRIMARY KEY,
    factory_id             TEXT NOT NULL DEFAULT '',
    name                   TEXT NOT NULL DEFAULT '',
    lane_count             INTEGER NOT NULL DEFAULT 1,
    expected_cycle_seconds INTEGER NOT NULL DEFAULT 0,
    created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS active_assignments (
    machine_id  TEXT NOT NULL,
    lane_id     INTEGER NOT NULL,
    product_sku TEXT NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (machine_id, lane_id)
);

CREATE TABLE IF NOT EXISTS production_log (
    id              TEXT PRIMARY KEY,
    machine_id      TEXT NOT NULL,
    lane_id         INTEGER NOT NULL,
    product_sku     TEXT NOT NULL,
    count           INTEGER NOT NULL CHECK (count >= 1),
    event_time      TIMESTAMPTZ NOT NULL,
    received_time   TIMESTAMPTZ NOT NULL,
    dedup_key       TEXT NOT NULL,
    clock_corrected BOOLEAN NOT NULL DEFAULT FALSE,
    reconciled_at   TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_production_log_dedup
    ON production_log (dedup_key, lane_id);
CREATE INDEX IF NOT EXISTS idx_production_log_machine_time
    ON production_log (machine_id, event_time);
CREATE INDEX IF NOT EXISTS idx_production_log_unreconciled
    ON production_log (machine_id, received_time) WHERE reconciled_at IS NULL;

CREATE TABLE IF NOT EXISTS stock_ledger (
    txn_id     TEXT PRIMARY KEY,
    sku        TEXT NOT NULL,
    change_qty INTEGER NOT NULL,
    event_type TEXT NOT NULL,
    ref_doc    TEXT NOT NULL,
    ref_lane   INTEGER NOT NULL,
    timestamp  TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_stock_ledger_ref
    ON stock_ledger (ref_doc, ref_lane);
CREATE INDEX IF NOT EXISTS idx_stock_ledger_sku ON stock_ledger (sku, timestamp);

CREATE TABLE IF NOT EXISTS anomalies (
    machine_id   TEXT NOT NULL,
    kind         TEXT NOT NULL,
    window_start TIMESTAMPTZ NOT NULL,
    window_end   TIMESTAMPTZ NOT NULL,
    detail       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_anomalies_machine ON anomalies (machine_id);

CREATE TABLE IF NOT EXISTS ingest_events (
    id         BIGSERIAL PRIMARY KEY,
    kind       TEXT NOT NULL,
    machine_id TEXT NOT NULL,
    message    TEXT,
    details    JSONB,
    timestamp  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ingest_events_machine ON ingest_events (machine_id, timestamp);

CREATE TABLE IF NOT EXISTS sweep_locks (
    key        TEXT PRIMARY KEY,
    expires_at TIMESTAMPTZ NOT NULL
);
`
