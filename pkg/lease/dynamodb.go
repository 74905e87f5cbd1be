package lease

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBAPI defines the DynamoDB operations used by DynamoDBStore.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// leaseRecord is the DynamoDB item layout. Times are unix milliseconds.
type leaseRecord struct {
	LockID          string `dynamodbav:"lock_id"`
	Holder          string `dynamodbav:"holder"`
	LeaseDurationMS int64  `dynamodbav:"lease_duration_ms"`
	AcquiredAt      int64  `dynamodbav:"acquired_at"`
	RenewedAt       int64  `dynamodbav:"renewed_at"`
	Transitions     int64  `dynamodbav:"transitions"`
	Version         int64  `dynamodbav:"version"`
}

// DynamoDBStore stores one lease per item, keyed by lock_id = namespace/name.
// A numeric version attribute provides compare-and-swap through condition expressions.
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
}

// Ensure DynamoDBStore implements Store.
var _ Store = (*DynamoDBStore)(nil)

// NewDynamoDBStore creates a store over the given table.
func NewDynamoDBStore(client DynamoDBAPI, tableName string) *DynamoDBStore {
	return &DynamoDBStore{client: client, tableName: tableName}
}

// NewDynamoDBStoreFromConfig creates a store with a client built from cfg.
func NewDynamoDBStoreFromConfig(cfg aws.Config, tableName string) *DynamoDBStore {
	return NewDynamoDBStore(dynamodb.NewFromConfig(cfg), tableName)
}

// Get implements Store.Get with a strongly consistent read.
func (s *DynamoDBStore) Get(ctx context.Context, key Key) (*Lease, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"lock_id": &types.AttributeValueMemberS{Value: key.String()},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, unavailable("get", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var rec leaseRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lease record: %w", err)
	}
	return rec.toLease(), nil
}

// CreateOrUpdate implements Store.CreateOrUpdate.
func (s *DynamoDBStore) CreateOrUpdate(ctx context.Context, key Key, observed *Lease, next Lease) (*Lease, error) {
	var expected int64
	if observed != nil {
		v, err := strconv.ParseInt(observed.Version, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid observed version %q: %w", observed.Version, err)
		}
		expected = v
	}

	rec := newLeaseRecord(key, next, expected+1)
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lease record: %w", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}
	if observed == nil {
		input.ConditionExpression = aws.String("attribute_not_exists(lock_id)")
	} else {
		input.ConditionExpression = aws.String("attribute_exists(lock_id) AND #v = :expected")
		input.ExpressionAttributeNames = map[string]string{"#v": "version"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		}
		input.ReturnValuesOnConditionCheckFailure = types.ReturnValuesOnConditionCheckFailureAllOld
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var ccfe *types.ConditionalCheckFailedException
		if errors.As(err, &ccfe) {
			// ALL_OLD returns no item when the record no longer exists.
			if observed != nil && len(ccfe.Item) == 0 {
				return nil, ErrNotFound
			}
			return nil, ErrConflict
		}
		return nil, unavailable("put", err)
	}

	return rec.toLease(), nil
}

// Close is a no-op; the SDK client holds no connection that needs releasing.
func (s *DynamoDBStore) Close() error {
	return nil
}

func newLeaseRecord(key Key, l Lease, version int64) leaseRecord {
	return leaseRecord{
		LockID:          key.String(),
		Holder:          l.HolderIdentity,
		LeaseDurationMS: l.LeaseDuration.Milliseconds(),
		AcquiredAt:      unixMilli(l.AcquireTime),
		RenewedAt:       unixMilli(l.RenewTime),
		Transitions:     l.LeaderTransitions,
		Version:         version,
	}
}

func (r leaseRecord) toLease() *Lease {
	return &Lease{
		HolderIdentity:    r.Holder,
		LeaseDuration:     time.Duration(r.LeaseDurationMS) * time.Millisecond,
		AcquireTime:       fromUnixMilli(r.AcquiredAt),
		RenewTime:         fromUnixMilli(r.RenewedAt),
		LeaderTransitions: r.Transitions,
		Version:           strconv.FormatInt(r.Version, 10),
	}
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
