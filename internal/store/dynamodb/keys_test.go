package dynamodb

import "testing"

func TestKeyLayout(t *testing.T) {
	if got, want := machinePK("press-7"), "MACHINE#press-7"; got != want {
		t.Errorf("machinePK = %q, want %q", got, want)
	}
	if got, want := laneSK(3), "LANE#0003"; got != want {
		t.Errorf("laneSK = %q, want %q", got, want)
	}
	if got, want := logSK("01J5ABCDEF"), "LOG#01J5ABCDEF"; got != want {
		t.Errorf("logSK = %q, want %q", got, want)
	}
	if got, want := pendingSK("01J5ABCDEF"), "PENDING#01J5ABCDEF"; got != want {
		t.Errorf("pendingSK = %q, want %q", got, want)
	}
	if got, want := dedupPK("deadbeef"), "DEDUP#deadbeef"; got != want {
		t.Errorf("dedupPK = %q, want %q", got, want)
	}
	if got, want := ledgerPK("01J5ABCDEF", 2), "LEDGER#01J5ABCDEF#2"; got != want {
		t.Errorf("ledgerPK = %q, want %q", got, want)
	}
	if got, want := lockPK("sweep:press-7"), "LOCK#sweep:press-7"; got != want {
		t.Errorf("lockPK = %q, want %q", got, want)
	}
}

func TestLaneSortKeysOrderNumerically(t *testing.T) {
	// Zero padding keeps lexicographic order equal to numeric order.
	prev := laneSK(0)
	for lane := 1; lane < 100; lane++ {
		cur := laneSK(lane)
		if cur <= prev {
			t.Fatalf("laneSK(%d) = %q not greater than %q", lane, cur, prev)
		}
		prev = cur
	}
}

func TestLedgerGSI1SKOrdersByTime(t *testing.T) {
	early := ledgerGSI1SK(1000, "01AAA")
	late := ledgerGSI1SK(1700000000000, "01AAA")
	if early >= late {
		t.Errorf("expected %q < %q", early, late)
	}
}

func TestEventSortKeysOrderByTime(t *testing.T) {
	early := eventSK(1000, "01AAA")
	late := eventSK(1700000000000, "01AAA")
	if early >= late {
		t.Errorf("expected %q < %q", early, late)
	}
}
