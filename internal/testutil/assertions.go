package testutil

import (
	"testing"
	"time"
)

// WaitFor polls check every 10ms until it returns true or timeout is reached.
func WaitFor(t *testing.T, timeout time.Duration, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// WaitForLedgerSize polls until the mock store's ledger reaches n entries.
func WaitForLedgerSize(t *testing.T, s *MockStore, n int, timeout time.Duration) {
	t.Helper()
	WaitFor(t, timeout, func() bool { return s.LedgerSize() >= n }, "ledger entries")
}
