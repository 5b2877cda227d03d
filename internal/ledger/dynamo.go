package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ardian231/notify-wa/internal/types"
)

const (
	pkLedger   = "LEDGER"
	pkFailures = "FAILURES"
	skSent     = "SENT#"
	skFail     = "FAIL#"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore keeps the ledger and the failure log in one DynamoDB table
// with a PK/SK key schema. Sent keys are hashed into the sort key because
// message bodies can exceed the sort key size limit.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
}

// NewDynamoStore creates a DynamoStore over tableName.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("ledger: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("ledger: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName}, nil
}

func sentSK(key string) string {
	sum := sha256.Sum256([]byte(key))
	return skSent + hex.EncodeToString(sum[:])
}

func failSK(rec *types.FailureRecord) string {
	return skFail + rec.At.UTC().Format(time.RFC3339Nano) + "#" + string(rec.ID)
}

// Load queries every SENT# item, following pagination.
func (d *DynamoStore) Load(ctx context.Context) ([]types.LedgerEntry, error) {
	items, err := d.queryAll(ctx, pkLedger, skSent, 0, true)
	if err != nil {
		return nil, fmt.Errorf("ledger: Load: %w", err)
	}
	entries := make([]types.LedgerEntry, 0, len(items))
	for _, item := range items {
		entry, err := itemToEntry(item)
		if err != nil {
			return nil, fmt.Errorf("ledger: Load unmarshal: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Add writes the entry. Rewriting an existing key is harmless.
func (d *DynamoStore) Add(ctx context.Context, entry types.LedgerEntry) error {
	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item: map[string]ddbtypes.AttributeValue{
			"PK":        &ddbtypes.AttributeValueMemberS{Value: pkLedger},
			"SK":        &ddbtypes.AttributeValueMemberS{Value: sentSK(entry.Key)},
			"key":       &ddbtypes.AttributeValueMemberS{Value: entry.Key},
			"recipient": &ddbtypes.AttributeValueMemberS{Value: entry.Recipient},
			"tag":       &ddbtypes.AttributeValueMemberS{Value: entry.Tag},
			"sentAt":    &ddbtypes.AttributeValueMemberS{Value: entry.SentAt.UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("ledger: Add: %w", err)
	}
	return nil
}

// Remove deletes the entry for key.
func (d *DynamoStore) Remove(ctx context.Context, key string) error {
	_, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: pkLedger},
			"SK": &ddbtypes.AttributeValueMemberS{Value: sentSK(key)},
		},
	})
	if err != nil {
		return fmt.Errorf("ledger: Remove: %w", err)
	}
	return nil
}

// Append writes a failure record, assigning an ID and timestamp if missing.
func (d *DynamoStore) Append(ctx context.Context, rec *types.FailureRecord) error {
	if rec.ID == "" {
		rec.ID = types.NewFailureID()
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item: map[string]ddbtypes.AttributeValue{
			"PK":        &ddbtypes.AttributeValueMemberS{Value: pkFailures},
			"SK":        &ddbtypes.AttributeValueMemberS{Value: failSK(rec)},
			"id":        &ddbtypes.AttributeValueMemberS{Value: string(rec.ID)},
			"key":       &ddbtypes.AttributeValueMemberS{Value: rec.Key},
			"recipient": &ddbtypes.AttributeValueMemberS{Value: rec.Recipient},
			"message":   &ddbtypes.AttributeValueMemberS{Value: rec.Message},
			"tag":       &ddbtypes.AttributeValueMemberS{Value: rec.Tag},
			"reason":    &ddbtypes.AttributeValueMemberS{Value: rec.Reason},
			"attempts":  &ddbtypes.AttributeValueMemberN{Value: strconv.Itoa(rec.Attempts)},
			"at":        &ddbtypes.AttributeValueMemberS{Value: rec.At.UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return fmt.Errorf("ledger: Append failure: %w", err)
	}
	return nil
}

// Tail returns the newest limit failure records, oldest first.
func (d *DynamoStore) Tail(ctx context.Context, limit int) ([]*types.FailureRecord, error) {
	// Read newest first so the limit keeps the most recent failures.
	items, err := d.queryAll(ctx, pkFailures, skFail, limit, false)
	if err != nil {
		return nil, fmt.Errorf("ledger: Tail: %w", err)
	}
	records := make([]*types.FailureRecord, 0, len(items))
	for _, item := range items {
		rec, err := itemToFailure(item)
		if err != nil {
			return nil, fmt.Errorf("ledger: Tail unmarshal: %w", err)
		}
		records = append(records, rec)
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// queryAll pages through PK = pk AND begins_with(SK, prefix). A limit > 0
// stops once that many items were collected.
func (d *DynamoStore) queryAll(ctx context.Context, pk, prefix string, limit int, forward bool) ([]map[string]ddbtypes.AttributeValue, error) {
	var (
		items []map[string]ddbtypes.AttributeValue
		start map[string]ddbtypes.AttributeValue
	)
	for {
		in := &dynamodb.QueryInput{
			TableName:              aws.String(d.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk":     &ddbtypes.AttributeValueMemberS{Value: pk},
				":prefix": &ddbtypes.AttributeValueMemberS{Value: prefix},
			},
			ScanIndexForward:  aws.Bool(forward),
			ExclusiveStartKey: start,
			ConsistentRead:    aws.Bool(true),
		}
		if limit > 0 {
			in.Limit = aws.Int32(int32(limit - len(items)))
		}
		out, err := d.api.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return items, nil
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 || (limit > 0 && len(items) >= limit) {
			return items, nil
		}
		start = out.LastEvaluatedKey
	}
}

func itemToEntry(item map[string]ddbtypes.AttributeValue) (types.LedgerEntry, error) {
	key, err := strAttr(item, "key")
	if err != nil {
		return types.LedgerEntry{}, err
	}
	recipient, _ := strAttr(item, "recipient") // allow empty
	tag, _ := strAttr(item, "tag")
	entry := types.LedgerEntry{Key: key, Recipient: recipient, Tag: tag}
	if s, err := strAttr(item, "sentAt"); err == nil {
		entry.SentAt, _ = time.Parse(time.RFC3339Nano, s)
	}
	return entry, nil
}

func itemToFailure(item map[string]ddbtypes.AttributeValue) (*types.FailureRecord, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return nil, err
	}
	key, err := strAttr(item, "key")
	if err != nil {
		return nil, err
	}
	rec := &types.FailureRecord{ID: types.FailureID(id), Key: key}
	rec.Recipient, _ = strAttr(item, "recipient")
	rec.Message, _ = strAttr(item, "message")
	rec.Tag, _ = strAttr(item, "tag")
	rec.Reason, _ = strAttr(item, "reason")
	if n, err := intAttr(item, "attempts"); err == nil {
		rec.Attempts = n
	}
	if s, err := strAttr(item, "at"); err == nil {
		rec.At, _ = time.Parse(time.RFC3339Nano, s)
	}
	return rec, nil
}

func strAttr(item map[string]ddbtypes.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("ledger: missing attribute %q", key)
	}
	s, ok := v.(*ddbtypes.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("ledger: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]ddbtypes.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("ledger: missing attribute %q", key)
	}
	n, ok := v.(*ddbtypes.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("ledger: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("ledger: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
