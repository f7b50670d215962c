package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tallyline/tallyline/internal/store"
	"github.com/tallyline/tallyline/pkg/types"
)

type dedupReservation struct {
	MachineID string   `json:"machine_id"`
	EntryIDs  []string `json:"entry_ids"`
}

func (s *RedisStore) logKey(machineID, entryID string) string {
	return s.prefix + "log:" + machineID + ":" + entryID
}

func (s *RedisStore) logListKey(machineID string) string {
	return s.prefix + "loglist:" + machineID
}

func (s *RedisStore) pendingKey(machineID string) string {
	return s.prefix + "pending:" + machineID
}

func (s *RedisStore) dedupKey(key string) string {
	return s.prefix + "dedup:" + key
}

// PersistLogBatch writes the per-lane log rows for one delivery through the
// persist-batch Lua script. The script refuses to touch anything when the
// dedup reservation already exists, so a replayed delivery reads back the
// original rows with created=false.
func (s *RedisStore) PersistLogBatch(ctx context.Context, dedupKey string, entries []types.ProductionLogEntry) ([]types.ProductionLogEntry, bool, error) {
	if len(entries) == 0 {
		return nil, false, fmt.Errorf("empty log batch")
	}
	machineID := entries[0].MachineID

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	reservation, err := json.Marshal(dedupReservation{MachineID: machineID, EntryIDs: ids})
	if err != nil {
		return nil, false, err
	}

	keys := []string{s.dedupKey(dedupKey), s.logListKey(machineID), s.pendingKey(machineID)}
	argv := []interface{}{string(reservation)}
	for _, e := range entries {
		raw, err := json.Marshal(e)
		if err != nil {
			return nil, false, err
		}
		keys = append(keys, s.logKey(e.MachineID, e.ID))
		argv = append(argv, e.ID, string(raw))
	}

	created, err := s.persistBatch.Run(ctx, s.client, keys, argv...).Int()
	if err != nil {
		return nil, false, fmt.Errorf("persisting log batch for %s: %w", machineID, err)
	}
	if created == 0 {
		prior, err := s.logEntriesForDedupKey(ctx, dedupKey)
		if err != nil {
			return nil, false, err
		}
		return prior, false, nil
	}
	return entries, true, nil
}

func (s *RedisStore) logEntriesForDedupKey(ctx context.Context, dedupKey string) ([]types.ProductionLogEntry, error) {
	raw, err := s.client.Get(ctx, s.dedupKey(dedupKey)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var res dedupReservation
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}

	entries := make([]types.ProductionLogEntry, 0, len(res.EntryIDs))
	for _, id := range res.EntryIDs {
		e, err := s.GetLogEntry(ctx, res.MachineID, id)
		if err != nil {
			return nil, fmt.Errorf("loading prior log entry %s: %w", id, err)
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

// GetLogEntry retrieves a single production log row.
func (s *RedisStore) GetLogEntry(ctx context.Context, machineID, entryID string) (*types.ProductionLogEntry, error) {
	raw, err := s.client.Get(ctx, s.logKey(machineID, entryID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var e types.ProductionLogEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ListLogEntries returns up to limit most recent rows for a machine in event
// time order. The per-machine list holds entry IDs in creation order, so the
// tail of the list is the recent window.
func (s *RedisStore) ListLogEntries(ctx context.Context, machineID string, limit int) ([]types.ProductionLogEntry, error) {
	ids, err := s.client.LRange(ctx, s.logListKey(machineID), int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]types.ProductionLogEntry, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetLogEntry(ctx, machineID, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].EventTime.Equal(entries[j].EventTime) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].EventTime.Before(entries[j].EventTime)
	})
	return entries, nil
}

// ListUnreconciled returns log rows whose ledger movement has not been
// confirmed. ULID IDs sort by creation time, so oldest first falls out of a
// string sort.
func (s *RedisStore) ListUnreconciled(ctx context.Context, machineID string, limit int) ([]types.ProductionLogEntry, error) {
	ids, err := s.client.SMembers(ctx, s.pendingKey(machineID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}

	var entries []types.ProductionLogEntry
	for _, id := range ids {
		e, err := s.GetLogEntry(ctx, machineID, id)
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("pending marker without log row", "machine", machineID, "entry", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

// MarkReconciled stamps the row and removes it from the pending set.
func (s *RedisStore) MarkReconciled(ctx context.Context, machineID, entryID string, at time.Time) error {
	e, err := s.GetLogEntry(ctx, machineID, entryID)
	if err != nil {
		return err
	}
	e.ReconciledAt = &at

	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.logKey(machineID, entryID), raw, 0)
	pipe.SRem(ctx, s.pendingKey(machineID), entryID)
	_, err = pipe.Exec(ctx)
	return err
}
