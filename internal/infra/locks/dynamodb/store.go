// Package dynamodb provides the DynamoDB-backed lock store. Mutual exclusion
// rests on conditional writes; a TTL attribute lets the table reap locks
// orphaned by crashed processes.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"datahub/pkg/domain"
)

var _ domain.LockStore = (*Store)(nil)

const (
	attrLockID     = "lockId"
	attrScope      = "scope"
	attrRequestID  = "requestId"
	attrAcquiredAt = "acquiredAt"
	attrData       = "data"
	attrExpiresAt  = "expiresAt"
)

// defaultTTL bounds how long an orphaned lock can block an item.
const defaultTTL = 30 * time.Minute

// Store implements the lock store on one DynamoDB table keyed by lockId.
type Store struct {
	client *dynamodb.Client
	table  string
	ttl    time.Duration
	now    func() time.Time
}

func NewStore(cfg aws.Config, table string) *Store {
	return &Store{
		client: dynamodb.NewFromConfig(cfg),
		table:  table,
		ttl:    defaultTTL,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) PutIfAbsent(ctx context.Context, lock domain.Lock) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                s.encode(lock),
		ConditionExpression: aws.String("attribute_not_exists(lockId)"),
	})
	if err != nil {
		var conditional *types.ConditionalCheckFailedException
		if errors.As(err, &conditional) {
			return &domain.AlreadyExistsError{Entity: domain.EntityLock, ID: lock.ID}
		}
		return fmt.Errorf("put lock %s: %w", lock.ID, err)
	}
	return nil
}

func (s *Store) GetLock(ctx context.Context, id string) (domain.Lock, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{attrLockID: &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Lock{}, fmt.Errorf("get lock %s: %w", id, err)
	}
	if out.Item == nil {
		return domain.Lock{}, &domain.NotFoundError{Entity: domain.EntityLock, ID: id}
	}
	return decode(out.Item)
}

func (s *Store) DeleteLock(ctx context.Context, lock domain.Lock) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(s.table),
		Key:                       map[string]types.AttributeValue{attrLockID: &types.AttributeValueMemberS{Value: lock.ID}},
		ConditionExpression:       aws.String("attribute_exists(lockId) AND requestId = :rid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":rid": &types.AttributeValueMemberS{Value: lock.RequestID}},
	})
	if err != nil {
		var conditional *types.ConditionalCheckFailedException
		if errors.As(err, &conditional) {
			return &domain.NotFoundError{Entity: domain.EntityLock, ID: lock.ID}
		}
		return fmt.Errorf("delete lock %s: %w", lock.ID, err)
	}
	return nil
}

func (s *Store) ListLocks(ctx context.Context) ([]domain.Lock, error) {
	var locks []domain.Lock
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:      aws.String(s.table),
		ConsistentRead: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan locks: %w", err)
		}
		for _, item := range page.Items {
			lock, err := decode(item)
			if err != nil {
				return nil, err
			}
			locks = append(locks, lock)
		}
	}
	return locks, nil
}

func (s *Store) encode(lock domain.Lock) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		attrLockID:     &types.AttributeValueMemberS{Value: lock.ID},
		attrScope:      &types.AttributeValueMemberS{Value: string(lock.Scope)},
		attrRequestID:  &types.AttributeValueMemberS{Value: lock.RequestID},
		attrAcquiredAt: &types.AttributeValueMemberS{Value: lock.AcquiredAt.Format(time.RFC3339Nano)},
		attrExpiresAt:  &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Add(s.ttl).Unix(), 10)},
	}
	if len(lock.Data) > 0 {
		data := make(map[string]types.AttributeValue, len(lock.Data))
		for k, v := range lock.Data {
			data[k] = &types.AttributeValueMemberS{Value: v}
		}
		item[attrData] = &types.AttributeValueMemberM{Value: data}
	}
	return item
}

func decode(item map[string]types.AttributeValue) (domain.Lock, error) {
	lock := domain.Lock{
		ID:        stringAttr(item, attrLockID),
		Scope:     domain.LockScope(stringAttr(item, attrScope)),
		RequestID: stringAttr(item, attrRequestID),
	}
	if raw := stringAttr(item, attrAcquiredAt); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return domain.Lock{}, fmt.Errorf("decode lock %s: bad acquiredAt %q", lock.ID, raw)
		}
		lock.AcquiredAt = ts
	}
	if m, ok := item[attrData].(*types.AttributeValueMemberM); ok {
		lock.Data = make(map[string]string, len(m.Value))
		for k, v := range m.Value {
			if sv, ok := v.(*types.AttributeValueMemberS); ok {
				lock.Data[k] = sv.Value
			}
		}
	}
	return lock, nil
}

func stringAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
