package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/oklog/ulid/v2"

	"github.com/tallyline/tallyline/pkg/types"
)

// AppendIngestEvent records an audit event for a machine. Events carry a TTL
// attribute so DynamoDB expires them after the configured retention.
func (s *DynamoDBStore) AppendIngestEvent(ctx context.Context, ev types.IngestEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling ingest event: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item: map[string]ddbtypes.AttributeValue{
			"PK":   &ddbtypes.AttributeValueMemberS{Value: machinePK(ev.MachineID)},
			"SK":   &ddbtypes.AttributeValueMemberS{Value: eventSK(ev.Timestamp.UnixMilli(), ulid.Make().String())},
			"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
			"ttl":  &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(ttlEpoch(s.eventRetention), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("putting ingest event for %s: %w", ev.MachineID, err)
	}
	return nil
}

// ListIngestEvents returns up to limit most recent audit events for a
// machine, newest first.
func (s *DynamoDBStore) ListIngestEvents(ctx context.Context, machineID string, limit int) ([]types.IngestEvent, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: machinePK(machineID)},
			":sk": &ddbtypes.AttributeValueMemberS{Value: eventPrefix()},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("listing ingest events for %s: %w", machineID, err)
	}

	events := make([]types.IngestEvent, 0, len(out.Items))
	for _, item := range out.Items {
		data, err := attributeStr(item, "data")
		if err != nil {
			s.logger.Warn("skipping malformed event item", "machine", machineID, "error", err)
			continue
		}
		var ev types.IngestEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			s.logger.Warn("skipping unreadable event item", "machine", machineID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
