package dynamodb

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// AcquireLock takes an advisory lock using a conditional put. The condition
// succeeds when no lock item exists or the existing one has expired, so a
// crashed holder cannot wedge the sweeper forever.
func (s *DynamoDBStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now().Unix()
	expires := time.Now().Add(ttl).Unix()

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item: map[string]ddbtypes.AttributeValue{
			"PK":  &ddbtypes.AttributeValueMemberS{Value: lockPK(key)},
			"SK":  &ddbtypes.AttributeValueMemberS{Value: skLock},
			"ttl": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(expires, 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) OR #ttl < :now"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":now": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	return true, nil
}

// ReleaseLock frees an advisory lock.
func (s *DynamoDBStore) ReleaseLock(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: lockPK(key)},
			"SK": &ddbtypes.AttributeValueMemberS{Value: skLock},
		},
	})
	if err != nil {
		return fmt.Errorf("releasing lock %s: %w", key, err)
	}
	return nil
}
