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

// PutAssignment sets the active product for one lane of a machine.
func (s *DynamoDBStore) PutAssignment(ctx context.Context, a types.ActiveAssignment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling assignment: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item: map[string]ddbtypes.AttributeValue{
			"PK":   &ddbtypes.AttributeValueMemberS{Value: machinePK(a.MachineID)},
			"SK":   &ddbtypes.AttributeValueMemberS{Value: laneSK(a.LaneID)},
			"data": &ddbtypes.AttributeValueMemberS{Value: string(data)},
		},
	})
	if err != nil {
		return fmt.Errorf("putting assignment %s lane %d: %w", a.MachineID, a.LaneID, err)
	}
	return nil
}

// GetAssignments returns the machine's lane assignments ordered by lane ID.
// The zero-padded LANE# sort key gives the ordering for free.
func (s *DynamoDBStore) GetAssignments(ctx context.Context, machineID string) ([]types.ActiveAssignment, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: machinePK(machineID)},
			":sk": &ddbtypes.AttributeValueMemberS{Value: lanePrefix()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("querying assignments for %s: %w", machineID, err)
	}

	var assignments []types.ActiveAssignment
	for _, item := range out.Items {
		data, err := attributeStr(item, "data")
		if err != nil {
			s.logger.Warn("skipping malformed assignment item", "machine", machineID, "error", err)
			continue
		}
		var a types.ActiveAssignment
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			s.logger.Warn("skipping unreadable assignment item", "machine", machineID, "error", err)
			continue
		}
		assignments = append(assignments, a)
	}
	return assignments, nil
}
