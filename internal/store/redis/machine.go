package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tallyline/tallyline/internal/store"
	"github.com/tallyline/tallyline/pkg/types"
)

func (s *RedisStore) machineKey(machineID string) string {
	return s.prefix + "machine:" + machineID
}

func (s *RedisStore) machineSetKey() string {
	return s.prefix + "machines"
}

// RegisterMachine creates or replaces a machine record.
func (s *RedisStore) RegisterMachine(ctx context.Context, m types.Machine) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.machineKey(m.MachineID), raw, 0)
	pipe.SAdd(ctx, s.machineSetKey(), m.MachineID)
	_, err = pipe.Exec(ctx)
	return err
}

// GetMachine retrieves a machine record by ID.
func (s *RedisStore) GetMachine(ctx context.Context, machineID string) (*types.Machine, error) {
	raw, err := s.client.Get(ctx, s.machineKey(machineID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var m types.Machine
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMachines returns all registered machines ordered by ID.
func (s *RedisStore) ListMachines(ctx context.Context) ([]types.Machine, error) {
	ids, err := s.client.SMembers(ctx, s.machineSetKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	machines := make([]types.Machine, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMachine(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		machines = append(machines, *m)
	}
	return machines, nil
}
