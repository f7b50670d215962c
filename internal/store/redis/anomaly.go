package redis

import (
	"context"
	"encoding/json"
	"errors"

	goredis "github.com/redis/go-redis/v9"

	"github.com/tallyline/tallyline/pkg/types"
)

func (s *RedisStore) anomalyKey(machineID string) string {
	return s.prefix + "anomalies:" + machineID
}

// ReplaceAnomalies swaps the machine's advisory findings for a fresh set.
// The whole set lives under one key, so a plain SET is the atomic swap.
func (s *RedisStore) ReplaceAnomalies(ctx context.Context, machineID string, anomalies []types.Anomaly) error {
	if len(anomalies) == 0 {
		return s.client.Del(ctx, s.anomalyKey(machineID)).Err()
	}
	raw, err := json.Marshal(anomalies)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.anomalyKey(machineID), raw, 0).Err()
}

// ListAnomalies returns the machine's current advisory findings.
func (s *RedisStore) ListAnomalies(ctx context.Context, machineID string) ([]types.Anomaly, error) {
	raw, err := s.client.Get(ctx, s.anomalyKey(machineID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var anomalies []types.Anomaly
	if err := json.Unmarshal(raw, &anomalies); err != nil {
		return nil, err
	}
	return anomalies, nil
}
