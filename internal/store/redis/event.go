package redis

import (
	"context"
	"encoding/json"

	"github.com/tallyline/tallyline/pkg/types"
)

func (s *RedisStore) eventKey(machineID string) string {
	return s.prefix + "events:" + machineID
}

// AppendIngestEvent records an audit event for a machine. The per-machine
// list is trimmed to the configured cap so it cannot grow without bound.
func (s *RedisStore) AppendIngestEvent(ctx context.Context, ev types.IngestEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.eventKey(ev.MachineID), raw)
	pipe.LTrim(ctx, s.eventKey(ev.MachineID), -s.eventListCap, -1)
	_, err = pipe.Exec(ctx)
	return err
}

// ListIngestEvents returns up to limit most recent audit events for a
// machine, newest first.
func (s *RedisStore) ListIngestEvents(ctx context.Context, machineID string, limit int) ([]types.IngestEvent, error) {
	raws, err := s.client.LRange(ctx, s.eventKey(machineID), int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}

	events := make([]types.IngestEvent, 0, len(raws))
	for i := len(raws) - 1; i >= 0; i-- { // newest first
		var ev types.IngestEvent
		if err := json.Unmarshal([]byte(raws[i]), &ev); err != nil {
			s.logger.Warn("skipping unreadable event", "machine", machineID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
