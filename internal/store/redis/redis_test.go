//go:build integration

package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyline/tallyline/internal/store"
	"github.com/tallyline/tallyline/pkg/types"
)

func setupTestStore(t *testing.T) *RedisStore {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	prefix := fmt.Sprintf("tallyline-test-%d:", time.Now().UnixNano())
	s := NewFromClient(client, prefix)

	t.Cleanup(func() {
		var cursor uint64
		for {
			keys, next, err := client.Scan(ctx, cursor, prefix+"*", 100).Result()
			if err != nil {
				break
			}
			if len(keys) > 0 {
				client.Del(ctx, keys...)
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
		client.Close()
	})

	return s
}

func testLogEntry(machineID string, lane int, count int) types.ProductionLogEntry {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return types.ProductionLogEntry{
		ID:           ulid.Make().String(),
		MachineID:    machineID,
		LaneID:       lane,
		ProductSKU:   "WIDGET-A",
		Count:        count,
		EventTime:    now,
		ReceivedTime: now,
	}
}

func TestPersistLogBatchIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entries := []types.ProductionLogEntry{
		testLogEntry("press-7", 1, 3),
		testLogEntry("press-7", 2, 2),
	}
	entries[0].DedupKey = "batch-key-1"
	entries[1].DedupKey = "batch-key-1"

	got, created, err := s.PersistLogBatch(ctx, "batch-key-1", entries)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, got, 2)

	// Replay with fresh ULIDs must return the original rows.
	replay := []types.ProductionLogEntry{
		testLogEntry("press-7", 1, 3),
		testLogEntry("press-7", 2, 2),
	}
	got2, created2, err := s.PersistLogBatch(ctx, "batch-key-1", replay)
	require.NoError(t, err)
	assert.False(t, created2)
	require.Len(t, got2, 2)
	assert.Equal(t, entries[0].ID, got2[0].ID)
	assert.Equal(t, entries[1].ID, got2[1].ID)
}

func TestUnreconciledLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entries := []types.ProductionLogEntry{testLogEntry("press-8", 1, 5)}
	_, _, err := s.PersistLogBatch(ctx, "batch-key-2", entries)
	require.NoError(t, err)

	pending, err := s.ListUnreconciled(ctx, "press-8", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Nil(t, pending[0].ReconciledAt)

	now := time.Now().UTC()
	require.NoError(t, s.MarkReconciled(ctx, "press-8", entries[0].ID, now))

	pending, err = s.ListUnreconciled(ctx, "press-8", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	row, err := s.GetLogEntry(ctx, "press-8", entries[0].ID)
	require.NoError(t, err)
	require.NotNil(t, row.ReconciledAt)
}

func TestAppendLedgerEntryConditional(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	e := types.StockLedgerEntry{
		TxnID:     ulid.Make().String(),
		SKU:       "WIDGET-A",
		ChangeQty: 5,
		EventType: types.EventProduction,
		RefDoc:    "01J5TESTDOC",
		RefLane:   1,
		Timestamp: time.Now().UTC(),
	}

	created, err := s.AppendLedgerEntry(ctx, e)
	require.NoError(t, err)
	assert.True(t, created)

	// Same ref doc and lane: no second movement.
	dup := e
	dup.TxnID = ulid.Make().String()
	created, err = s.AppendLedgerEntry(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)

	entries, err := s.ListLedgerEntries(ctx, "WIDGET-A", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, e.TxnID, entries[0].TxnID)
}

func TestMachineAndAssignments(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	m := types.Machine{MachineID: "press-9", FactoryID: "plant-1", LaneCount: 2, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.RegisterMachine(ctx, m))

	_, err := s.GetMachine(ctx, "no-such-machine")
	assert.ErrorIs(t, err, store.ErrNotFound)

	for lane := 2; lane >= 1; lane-- {
		require.NoError(t, s.PutAssignment(ctx, types.ActiveAssignment{
			MachineID: "press-9", LaneID: lane, ProductSKU: "WIDGET-A", UpdatedAt: time.Now().UTC(),
		}))
	}

	got, err := s.GetAssignments(ctx, "press-9")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].LaneID)
	assert.Equal(t, 2, got[1].LaneID)
}

func TestAcquireLockExpires(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ok, err := s.AcquireLock(ctx, "sweep:press-10", 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLock(ctx, "sweep:press-10", 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(150 * time.Millisecond)

	ok, err = s.AcquireLock(ctx, "sweep:press-10", 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
}
