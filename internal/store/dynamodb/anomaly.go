package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tallyline/tallyline/pkg/types"
)

// ReplaceAnomalies swaps the machine's advisory findings for a fresh set.
// Findings are advisory, so delete-then-put without a transaction is
// acceptable; a reader racing the swap sees a partial set for one cycle.
func (s *DynamoDBStore) ReplaceAnomalies(ctx context.Context, machineID string, anomalies []types.Anomaly) error {
	existing, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: machinePK(machineID)},
			":sk": &ddbtypes.AttributeValueMemberS{Value: anomalyPrefix()},
		},
		ProjectionExpression: aws.String("PK, SK"),
	})
	if err != nil {
		return fmt.Errorf("querying anomalies for %s: %w", machineID, err)
	}

	for _, item := range existing.Items {
		sk, err := attributeStr(item, "SK")
		if err != nil {
			continue
		}
		_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: &s.tableName,
			Key: map[string]ddbtypes.AttributeValue{
				"PK": &ddbtypes.AttributeValueMemberS{Value: machinePK(machineID)},
				"SK": &ddbtypes.AttributeValueMemberS{Value: sk},
			},
		})
		if err != nil {
			return fmt.Errorf("deleting stale anomaly: %w", err)
		}
	}

	for i, a := range anomalies {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshaling anomaly: %w", err)
		}
		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: &s.tableName,
			Item: map[string]ddbtypes.AttributeValue{
				"PK":   &ddbtypes.AttributeValueMemberS{Value: machinePK(machineID)},
				"SK":   &ddbtypes.AttributeValueMemberS{Value: anomalySK(i)},
				"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
			},
		})
		if err != nil {
			return fmt.Errorf("putting anomaly for %s: %w", machineID, err)
		}
	}
	return nil
}

// ListAnomalies returns the machine's current advisory findings.
func (s *DynamoDBStore) ListAnomalies(ctx context.Context, machineID string) ([]types.Anomaly, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: machinePK(machineID)},
			":sk": &ddbtypes.AttributeValueMemberS{Value: anomalyPrefix()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("listing anomalies for %s: %w", machineID, err)
	}

	var anomalies []types.Anomaly
	for _, item := range out.Items {
		data, err := attributeStr(item, "data")
		if err != nil {
			s.logger.Warn("skipping malformed anomaly item", "machine", machineID, "error", err)
			continue
		}
		var a types.Anomaly
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			s.logger.Warn("skipping unreadable anomaly item", "machine", machineID, "error", err)
			continue
		}
		anomalies = append(anomalies, a)
	}
	return anomalies, nil
}
