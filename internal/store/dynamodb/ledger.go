package dynamodb

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/tallyline/tallyline/pkg/types"
)

// Ledger items are stored flat (attributevalue-marshaled) rather than as a
// JSON blob, so filter expressions can address the sku attribute directly.

// AppendLedgerEntry writes a stock movement keyed by its source document and
// lane. The conditional put makes the append idempotent: a second movement
// for the same (ref_doc, ref_lane) fails the condition and reports
// created=false.
func (s *DynamoDBStore) AppendLedgerEntry(ctx context.Context, e types.StockLedgerEntry) (bool, error) {
	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return false, fmt.Errorf("marshaling ledger entry: %w", err)
	}
	item["PK"] = &ddbtypes.AttributeValueMemberS{Value: ledgerPK(e.RefDoc, e.RefLane)}
	item["SK"] = &ddbtypes.AttributeValueMemberS{Value: skLedger}
	item["GSI1PK"] = &ddbtypes.AttributeValueMemberS{Value: gsiTypeLedger}
	item["GSI1SK"] = &ddbtypes.AttributeValueMemberS{Value: ledgerGSI1SK(e.Timestamp.UnixMilli(), e.TxnID)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("appending ledger entry for %s: %w", e.RefDoc, err)
	}
	return true, nil
}

// ListLedgerEntries returns up to limit most recent movements, newest first,
// optionally restricted to one SKU.
func (s *DynamoDBStore) ListLedgerEntries(ctx context.Context, sku string, limit int) ([]types.StockLedgerEntry, error) {
	in := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: gsiTypeLedger},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}
	if sku != "" {
		in.FilterExpression = aws.String("sku = :sku")
		in.ExpressionAttributeValues[":sku"] = &ddbtypes.AttributeValueMemberS{Value: sku}
	}

	out, err := s.client.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("listing ledger entries: %w", err)
	}

	entries := make([]types.StockLedgerEntry, 0, len(out.Items))
	for _, item := range out.Items {
		var e types.StockLedgerEntry
		if err := attributevalue.UnmarshalMap(item, &e); err != nil {
			s.logger.Warn("skipping malformed ledger item", "error", err)
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries, nil
}
