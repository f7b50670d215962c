package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tallyline/tallyline/pkg/types"
)

func (s *RedisStore) assignmentKey(machineID string) string {
	return s.prefix + "assign:" + machineID
}

// PutAssignment sets the active product for one lane of a machine. Each lane
// is a field in the machine's assignment hash, so a put replaces only its
// own lane.
func (s *RedisStore) PutAssignment(ctx context.Context, a types.ActiveAssignment) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	field := fmt.Sprintf("%04d", a.LaneID)
	return s.client.HSet(ctx, s.assignmentKey(a.MachineID), field, raw).Err()
}

// GetAssignments returns the machine's lane assignments ordered by lane ID.
func (s *RedisStore) GetAssignments(ctx context.Context, machineID string) ([]types.ActiveAssignment, error) {
	fields, err := s.client.HGetAll(ctx, s.assignmentKey(machineID)).Result()
	if err != nil {
		return nil, err
	}

	assignments := make([]types.ActiveAssignment, 0, len(fields))
	for field, raw := range fields {
		var a types.ActiveAssignment
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			s.logger.Warn("skipping unreadable assignment", "machine", machineID, "lane", field, "error", err)
			continue
		}
		assignments = append(assignments, a)
	}

	sort.Slice(assignments, func(i, j int) bool {
		return assignments[i].LaneID < assignments[j].LaneID
	})
	return assignments, nil
}
