package dynamodb

import "fmt"

// Single-table key layout. Every item carries PK and SK; items that need to
// be listed across partitions also carry GSI1PK and GSI1SK.
//
//	Machine record      PK=MACHINE#<id>         SK=CONFIG        GSI1=TYPE#machine / <id>
//	Lane assignment     PK=MACHINE#<id>         SK=LANE#<n>
//	Production log row  PK=MACHINE#<id>         SK=LOG#<ulid>
//	Pending reconcile   PK=MACHINE#<id>         SK=PENDING#<ulid>
//	Dedup reservation   PK=DEDUP#<key>          SK=DEDUP
//	Ledger movement     PK=LEDGER#<ref>#<lane>  SK=LEDGER        GSI1=TYPE#ledger / <millis>#<txn>
//	Anomaly finding     PK=MACHINE#<id>         SK=ANOM#<n>
//	Audit event         PK=MACHINE#<id>         SK=EVENT#<millis>#<ulid>
//	Sweep lock          PK=LOCK#<key>           SK=LOCK

const (
	skConfig = "CONFIG"
	skDedup  = "DEDUP"
	skLedger = "LEDGER"
	skLock   = "LOCK"

	gsiTypeMachine = "TYPE#machine"
	gsiTypeLedger  = "TYPE#ledger"
)

func machinePK(machineID string) string {
	return "MACHINE#" + machineID
}

func lanePrefix() string {
	return "LANE#"
}

func laneSK(laneID int) string {
	return fmt.Sprintf("LANE#%04d", laneID)
}

func logPrefix() string {
	return "LOG#"
}

func logSK(entryID string) string {
	return "LOG#" + entryID
}

func pendingPrefix() string {
	return "PENDING#"
}

func pendingSK(entryID string) string {
	return "PENDING#" + entryID
}

func dedupPK(dedupKey string) string {
	return "DEDUP#" + dedupKey
}

func ledgerPK(refDoc string, refLane int) string {
	return fmt.Sprintf("LEDGER#%s#%d", refDoc, refLane)
}

func ledgerGSI1SK(millis int64, txnID string) string {
	return fmt.Sprintf("%013d#%s", millis, txnID)
}

func anomalyPrefix() string {
	return "ANOM#"
}

func anomalySK(n int) string {
	return fmt.Sprintf("ANOM#%05d", n)
}

func eventPrefix() string {
	return "EVENT#"
}

func eventSK(millis int64, id string) string {
	return fmt.Sprintf("EVENT#%013d#%s", millis, id)
}

func lockPK(key string) string {
	return "LOCK#" + key
}
