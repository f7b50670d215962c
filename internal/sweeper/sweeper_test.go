package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tallyline/tallyline/internal/anomaly"
	"github.com/tallyline/tallyline/internal/ledger"
	"github.com/tallyline/tallyline/internal/pipeline"
	"github.com/tallyline/tallyline/internal/testutil"
	"github.com/tallyline/tallyline/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func setup(t *testing.T) (*testutil.MockStore, *Sweeper) {
	t.Helper()
	s := testutil.NewMockStore()
	require.NoError(t, s.RegisterMachine(context.Background(), types.Machine{
		MachineID:            "T1.2-M01",
		LaneCount:            1,
		ExpectedCycleSeconds: 300,
	}))
	require.NoError(t, s.PutAssignment(context.Background(), types.ActiveAssignment{
		MachineID: "T1.2-M01", LaneID: 1, ProductSKU: "SKU-A",
	}))
	sw := New(s, ledger.New(s), nil, nil, Config{Interval: 50 * time.Millisecond})
	return s, sw
}

func ingest(t *testing.T, s *testutil.MockStore, seq string) {
	t.Helper()
	p := pipeline.New(s, ledger.New(s), nil)
	p.SetReconcileMode(types.ReconcileQueued, nil)
	_, err := p.Ingest(context.Background(), types.IngestRequest{
		MachineID:      "T1.2-M01",
		DeviceSequence: seq,
	})
	require.NoError(t, err)
}

func TestSweep_ReconcilesStragglers(t *testing.T) {
	s, sw := setup(t)
	ingest(t, s, "seq-1")
	ingest(t, s, "seq-2")

	unreconciled, err := s.ListUnreconciled(context.Background(), "T1.2-M01", 0)
	require.NoError(t, err)
	require.Len(t, unreconciled, 2)

	sw.Sweep(context.Background())

	unreconciled, err = s.ListUnreconciled(context.Background(), "T1.2-M01", 0)
	require.NoError(t, err)
	assert.Empty(t, unreconciled)
	assert.Equal(t, 2, s.LedgerSize())
}

func TestSweep_IdempotentAcrossCycles(t *testing.T) {
	s, sw := setup(t)
	ingest(t, s, "seq-1")

	sw.Sweep(context.Background())
	sw.Sweep(context.Background())
	sw.Sweep(context.Background())

	assert.Equal(t, 1, s.LedgerSize(), "repeated sweeps must not duplicate ledger rows")
}

func TestSweep_RefreshesAnomaliesAndAlertsOnce(t *testing.T) {
	s := testutil.NewMockStore()
	require.NoError(t, s.RegisterMachine(context.Background(), types.Machine{
		MachineID: "T1.2-M01", LaneCount: 1, ExpectedCycleSeconds: 300,
	}))

	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	rows := []types.ProductionLogEntry{
		{ID: "a", MachineID: "T1.2-M01", LaneID: 1, ProductSKU: "SKU-A", Count: 1, EventTime: base},
		{ID: "b", MachineID: "T1.2-M01", LaneID: 1, ProductSKU: "SKU-A", Count: 1, EventTime: base.Add(40 * time.Minute)},
	}
	_, created, err := s.PersistLogBatch(context.Background(), "k1", rows[:1])
	require.NoError(t, err)
	require.True(t, created)
	_, created, err = s.PersistLogBatch(context.Background(), "k2", rows[1:])
	require.NoError(t, err)
	require.True(t, created)

	var alerts []types.Alert
	sw := New(s, ledger.New(s), func(a types.Alert) { alerts = append(alerts, a) }, nil, Config{
		Anomaly: anomaly.Config{},
	})

	sw.Sweep(context.Background())
	found, err := s.ListAnomalies(context.Background(), "T1.2-M01")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, types.AnomalyMissedCycle, found[0].Kind)
	assert.Len(t, alerts, 1)

	// Second sweep finds the same window and must not re-alert.
	sw.Sweep(context.Background())
	assert.Len(t, alerts, 1)
}

func TestSweep_LockPreventsDoubleProcessing(t *testing.T) {
	s, sw := setup(t)
	ingest(t, s, "seq-1")

	held, err := s.AcquireLock(context.Background(), "sweep:T1.2-M01", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	sw.Sweep(context.Background())

	unreconciled, err := s.ListUnreconciled(context.Background(), "T1.2-M01", 0)
	require.NoError(t, err)
	assert.Len(t, unreconciled, 1, "locked machine must be skipped")
}

func TestSweep_LedgerOutageLeavesRowsForNextCycle(t *testing.T) {
	s, sw := setup(t)
	ingest(t, s, "seq-1")
	s.FailLedger = errors.New("ledger store down")

	sw.Sweep(context.Background())

	unreconciled, err := s.ListUnreconciled(context.Background(), "T1.2-M01", 0)
	require.NoError(t, err)
	assert.Len(t, unreconciled, 1)

	s.FailLedger = nil
	sw.Sweep(context.Background())
	unreconciled, err = s.ListUnreconciled(context.Background(), "T1.2-M01", 0)
	require.NoError(t, err)
	assert.Empty(t, unreconciled)
}

func TestStartStop(t *testing.T) {
	s, sw := setup(t)
	ingest(t, s, "seq-1")

	sw.Start(context.Background())
	testutil.WaitForLedgerSize(t, s, 1, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sw.Stop(ctx)
}
