package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tallyline/tallyline/pkg/types"
)

func (s *RedisStore) ledgerRefKey(refDoc string, refLane int) string {
	return fmt.Sprintf("%sledger:%s:%d", s.prefix, refDoc, refLane)
}

func (s *RedisStore) ledgerListKey() string {
	return s.prefix + "ledgerlist"
}

// AppendLedgerEntry writes a stock movement keyed by its source document and
// lane. SETNX on the ref key makes the append idempotent; the append-order
// list exists only for history reads.
func (s *RedisStore) AppendLedgerEntry(ctx context.Context, e types.StockLedgerEntry) (bool, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return false, err
	}

	key := s.ledgerRefKey(e.RefDoc, e.RefLane)
	created, err := s.client.SetNX(ctx, key, raw, 0).Result()
	if err != nil {
		return false, fmt.Errorf("appending ledger entry for %s: %w", e.RefDoc, err)
	}
	if !created {
		return false, nil
	}

	if err := s.client.RPush(ctx, s.ledgerListKey(), key).Err(); err != nil {
		// The movement itself is durable; only history listing misses it.
		s.logger.Warn("ledger entry written but not indexed", "ref", e.RefDoc, "error", err)
	}
	return true, nil
}

// ListLedgerEntries returns up to limit most recent movements, newest first,
// optionally restricted to one SKU.
func (s *RedisStore) ListLedgerEntries(ctx context.Context, sku string, limit int) ([]types.StockLedgerEntry, error) {
	// Over-fetch when filtering by SKU since the list is not per-SKU.
	fetch := int64(limit)
	if sku != "" {
		fetch = -1
	}

	var keys []string
	var err error
	if fetch < 0 {
		keys, err = s.client.LRange(ctx, s.ledgerListKey(), 0, -1).Result()
	} else {
		keys, err = s.client.LRange(ctx, s.ledgerListKey(), -fetch, -1).Result()
	}
	if err != nil {
		return nil, err
	}

	var entries []types.StockLedgerEntry
	for i := len(keys) - 1; i >= 0; i-- { // newest first
		raw, err := s.client.Get(ctx, keys[i]).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var e types.StockLedgerEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			s.logger.Warn("skipping unreadable ledger entry", "key", keys[i], "error", err)
			continue
		}
		if sku != "" && e.SKU != sku {
			continue
		}
		entries = append(entries, e)
		if len(entries) >= limit {
			break
		}
	}
	return entries, nil
}
