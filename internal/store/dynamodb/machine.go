package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tallyline/tallyline/internal/store"
	"github.com/tallyline/tallyline/pkg/types"
)

// RegisterMachine creates or replaces a machine record.
func (s *DynamoDBStore) RegisterMachine(ctx context.Context, m types.Machine) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling machine: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item: map[string]ddbtypes.AttributeValue{
			"PK":     &ddbtypes.AttributeValueMemberS{Value: machinePK(m.MachineID)},
			"SK":     &ddbtypes.AttributeValueMemberS{Value: skConfig},
			"GSI1PK": &ddbtypes.AttributeValueMemberS{Value: gsiTypeMachine},
			"GSI1SK": &ddbtypes.AttributeValueMemberS{Value: m.MachineID},
			"data":   &ddbtypes.AttributeValueMemberS{Value: string(data)},
		},
	})
	if err != nil {
		return fmt.Errorf("putting machine %s: %w", m.MachineID, err)
	}
	return nil
}

// GetMachine retrieves a machine record by ID.
func (s *DynamoDBStore) GetMachine(ctx context.Context, machineID string) (*types.Machine, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: machinePK(machineID)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: skConfig},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting machine %s: %w", machineID, err)
	}
	if out.Item == nil {
		return nil, store.ErrNotFound
	}

	data, err := attributeStr(out.Item, "data")
	if err != nil {
		return nil, fmt.Errorf("machine %s: %w", machineID, err)
	}
	var m types.Machine
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshaling machine %s: %w", machineID, err)
	}
	return &m, nil
}

// ListMachines returns all registered machines via the type index.
func (s *DynamoDBStore) ListMachines(ctx context.Context) ([]types.Machine, error) {
	var machines []types.Machine
	var startKey map[string]ddbtypes.AttributeValue

	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              &s.tableName,
			IndexName:              aws.String("GSI1"),
			KeyConditionExpression: aws.String("GSI1PK = :pk"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk": &ddbtypes.AttributeValueMemberS{Value: gsiTypeMachine},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("listing machines: %w", err)
		}

		for _, item := range out.Items {
			data, err := attributeStr(item, "data")
			if err != nil {
				s.logger.Warn("skipping malformed machine item", "error", err)
				continue
			}
			var m types.Machine
			if err := json.Unmarshal([]byte(data), &m); err != nil {
				s.logger.Warn("skipping unreadable machine item", "error", err)
				continue
			}
			machines = append(machines, m)
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	sort.Slice(machines, func(i, j int) bool {
		return machines[i].MachineID < machines[j].MachineID
	})
	return machines, nil
}
