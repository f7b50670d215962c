package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tallyline/tallyline/internal/store"
	"github.com/tallyline/tallyline/pkg/types"
)

// dedupReservation is the payload stored under the DEDUP# partition. It
// records which log rows a delivery produced so replays can return them.
type dedupReservation struct {
	MachineID string   `json:"machine_id"`
	EntryIDs  []string `json:"entry_ids"`
}

// PersistLogBatch writes the per-lane log rows for one delivery atomically.
// A conditional put on the DEDUP# reservation item makes the whole
// transaction collapse on replay: the second delivery fails the condition,
// and the previously written rows are read back instead.
func (s *DynamoDBStore) PersistLogBatch(ctx context.Context, dedupKey string, entries []types.ProductionLogEntry) ([]types.ProductionLogEntry, bool, error) {
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
		return nil, false, fmt.Errorf("marshaling dedup reservation: %w", err)
	}

	items := []ddbtypes.TransactWriteItem{
		{
			Put: &ddbtypes.Put{
				TableName: &s.tableName,
				Item: map[string]ddbtypes.AttributeValue{
					"PK":   &ddbtypes.AttributeValueMemberS{Value: dedupPK(dedupKey)},
					"SK":   &ddbtypes.AttributeValueMemberS{Value: skDedup},
					"data": &ddbtypes.AttributeValueMemberS{Value: string(reservation)},
				},
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			},
		},
	}

	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, false, fmt.Errorf("marshaling log entry: %w", err)
		}
		items = append(items,
			ddbtypes.TransactWriteItem{
				Put: &ddbtypes.Put{
					TableName: &s.tableName,
					Item: map[string]ddbtypes.AttributeValue{
						"PK":   &ddbtypes.AttributeValueMemberS{Value: machinePK(e.MachineID)},
						"SK":   &ddbtypes.AttributeValueMemberS{Value: logSK(e.ID)},
						"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
					},
				},
			},
			// Pending marker, deleted when the row is reconciled. Lets the
			// sweeper find stragglers without scanning the whole log.
			ddbtypes.TransactWriteItem{
				Put: &ddbtypes.Put{
					TableName: &s.tableName,
					Item: map[string]ddbtypes.AttributeValue{
						"PK": &ddbtypes.AttributeValueMemberS{Value: machinePK(e.MachineID)},
						"SK": &ddbtypes.AttributeValueMemberS{Value: pendingSK(e.ID)},
					},
				},
			},
		)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			prior, perr := s.logEntriesForDedupKey(ctx, dedupKey)
			if perr != nil {
				return nil, false, perr
			}
			return prior, false, nil
		}
		return nil, false, fmt.Errorf("persisting log batch for %s: %w", machineID, err)
	}
	return entries, true, nil
}

func (s *DynamoDBStore) logEntriesForDedupKey(ctx context.Context, dedupKey string) ([]types.ProductionLogEntry, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: dedupPK(dedupKey)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: skDedup},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting dedup reservation: %w", err)
	}
	if out.Item == nil {
		return nil, store.ErrNotFound
	}

	data, err := attributeStr(out.Item, "data")
	if err != nil {
		return nil, fmt.Errorf("dedup reservation: %w", err)
	}
	var res dedupReservation
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("unmarshaling dedup reservation: %w", err)
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
func (s *DynamoDBStore) GetLogEntry(ctx context.Context, machineID, entryID string) (*types.ProductionLogEntry, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: machinePK(machineID)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: logSK(entryID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting log entry %s: %w", entryID, err)
	}
	if out.Item == nil {
		return nil, store.ErrNotFound
	}
	return unmarshalLogItem(out.Item)
}

// ListLogEntries returns up to limit most recent rows for a machine in event
// time order. ULID sort keys are creation-ordered, so the query walks the
// newest rows backwards and the result is re-sorted by event time.
func (s *DynamoDBStore) ListLogEntries(ctx context.Context, machineID string, limit int) ([]types.ProductionLogEntry, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: machinePK(machineID)},
			":sk": &ddbtypes.AttributeValueMemberS{Value: logPrefix()},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("listing log entries for %s: %w", machineID, err)
	}

	entries := make([]types.ProductionLogEntry, 0, len(out.Items))
	for _, item := range out.Items {
		e, err := unmarshalLogItem(item)
		if err != nil {
			s.logger.Warn("skipping malformed log item", "machine", machineID, "error", err)
			continue
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
// confirmed, oldest first.
func (s *DynamoDBStore) ListUnreconciled(ctx context.Context, machineID string, limit int) ([]types.ProductionLogEntry, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: machinePK(machineID)},
			":sk": &ddbtypes.AttributeValueMemberS{Value: pendingPrefix()},
		},
		Limit: aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("listing unreconciled for %s: %w", machineID, err)
	}

	var entries []types.ProductionLogEntry
	for _, item := range out.Items {
		sk, err := attributeStr(item, "SK")
		if err != nil {
			continue
		}
		entryID := sk[len(pendingPrefix()):]
		e, err := s.GetLogEntry(ctx, machineID, entryID)
		if err != nil {
			s.logger.Warn("pending marker without log row", "machine", machineID, "entry", entryID, "error", err)
			continue
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

// MarkReconciled stamps the row and removes its pending marker.
func (s *DynamoDBStore) MarkReconciled(ctx context.Context, machineID, entryID string, at time.Time) error {
	e, err := s.GetLogEntry(ctx, machineID, entryID)
	if err != nil {
		return err
	}
	e.ReconciledAt = &at

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling log entry: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []ddbtypes.TransactWriteItem{
			{
				Put: &ddbtypes.Put{
					TableName: &s.tableName,
					Item: map[string]ddbtypes.AttributeValue{
						"PK":   &ddbtypes.AttributeValueMemberS{Value: machinePK(machineID)},
						"SK":   &ddbtypes.AttributeValueMemberS{Value: logSK(entryID)},
						"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
					},
				},
			},
			{
				Delete: &ddbtypes.Delete{
					TableName: &s.tableName,
					Key: map[string]ddbtypes.AttributeValue{
						"PK": &ddbtypes.AttributeValueMemberS{Value: machinePK(machineID)},
						"SK": &ddbtypes.AttributeValueMemberS{Value: pendingSK(entryID)},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("marking %s reconciled: %w", entryID, err)
	}
	return nil
}

func unmarshalLogItem(item map[string]ddbtypes.AttributeValue) (*types.ProductionLogEntry, error) {
	data, err := attributeStr(item, "data")
	if err != nil {
		return nil, err
	}
	var e types.ProductionLogEntry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("unmarshaling log entry: %w", err)
	}
	return &e, nil
}
