package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyline/tallyline/internal/testutil"
	"github.com/tallyline/tallyline/pkg/types"
)

func logEntry(id string, count int) types.ProductionLogEntry {
	return types.ProductionLogEntry{
		ID:           id,
		MachineID:    "T1.2-M01",
		LaneID:       1,
		ProductSKU:   "SKU-A",
		Count:        count,
		EventTime:    time.Now(),
		ReceivedTime: time.Now(),
	}
}

func seed(t *testing.T, s *testutil.MockStore, entry types.ProductionLogEntry) {
	t.Helper()
	_, created, err := s.PersistLogBatch(context.Background(), "dedup-"+entry.ID, []types.ProductionLogEntry{entry})
	require.NoError(t, err)
	require.True(t, created)
}

func TestReconcile_AppendsSignedMovement(t *testing.T) {
	s := testutil.NewMockStore()
	entry := logEntry("log-1", 3)
	seed(t, s, entry)

	movement, err := New(s).Reconcile(context.Background(), entry)
	require.NoError(t, err)
	require.NotNil(t, movement)
	assert.Equal(t, "SKU-A", movement.SKU)
	assert.Equal(t, 3, movement.ChangeQty)
	assert.Equal(t, types.EventProduction, movement.EventType)
	assert.Equal(t, "log-1", movement.RefDoc)
	assert.Equal(t, 1, movement.RefLane)
	assert.NotEmpty(t, movement.TxnID)

	unreconciled, err := s.ListUnreconciled(context.Background(), "T1.2-M01", 0)
	require.NoError(t, err)
	assert.Empty(t, unreconciled)
}

func TestReconcile_ReplayIsNoOp(t *testing.T) {
	s := testutil.NewMockStore()
	entry := logEntry("log-1", 2)
	seed(t, s, entry)
	r := New(s)

	first, err := r.Reconcile(context.Background(), entry)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := r.Reconcile(context.Background(), entry)
	require.NoError(t, err)
	assert.Nil(t, second, "second reconcile must be a no-op")
	assert.Equal(t, 1, s.LedgerSize())
}

func TestReconcile_UnknownSKUStillReconciled(t *testing.T) {
	s := testutil.NewMockStore()
	entry := logEntry("log-1", 1)
	entry.ProductSKU = types.UnknownSKU
	seed(t, s, entry)

	movement, err := New(s).Reconcile(context.Background(), entry)
	require.NoError(t, err)
	require.NotNil(t, movement)
	assert.Equal(t, types.UnknownSKU, movement.SKU)
	assert.Equal(t, 1, movement.ChangeQty)
}

func TestReconcile_DownstreamFailureLeavesRowUnreconciled(t *testing.T) {
	s := testutil.NewMockStore()
	entry := logEntry("log-1", 1)
	seed(t, s, entry)
	s.FailLedger = errors.New("ledger store unavailable")

	_, err := New(s).Reconcile(context.Background(), entry)
	require.Error(t, err)

	unreconciled, err := s.ListUnreconciled(context.Background(), "T1.2-M01", 0)
	require.NoError(t, err)
	require.Len(t, unreconciled, 1, "row must stay eligible for the sweeper")

	// Backend recovers; the same row reconciles cleanly.
	s.FailLedger = nil
	movement, err := New(s).Reconcile(context.Background(), entry)
	require.NoError(t, err)
	assert.NotNil(t, movement)
}
