// Package dynamo provides a DynamoDB-backed Store. Each user is a single
// item keyed by user_id, marshalled with the attributevalue package.
package dynamo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jun/drivebot/internal/model"
	"github.com/jun/drivebot/internal/store"
)

// Client is the subset of *dynamodb.Client methods used by Store.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type Store struct {
	client    Client
	tableName string
}

var _ store.Store = (*Store)(nil)

func New(client Client, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

func (s *Store) Get(ctx context.Context, userID int64) (*model.UserRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       key(userID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get user record: %w", err)
	}
	if out.Item == nil {
		return nil, store.ErrNotFound
	}

	var rec model.UserRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user record: %w", err)
	}
	return &rec, nil
}

func (s *Store) Put(ctx context.Context, rec *model.UserRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal user record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put user record: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID int64) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       key(userID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete user record: %w", err)
	}
	return nil
}

// ListRecords scans the whole table. Used at startup to resume persisted
// device flows; not intended for hot paths.
func (s *Store) ListRecords(ctx context.Context) ([]*model.UserRecord, error) {
	var out []*model.UserRecord
	var startKey map[string]types.AttributeValue
	for {
		resp, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.tableName),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan user records: %w", err)
		}
		for _, item := range resp.Items {
			var rec model.UserRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("failed to unmarshal user record: %w", err)
			}
			out = append(out, &rec)
		}
		if resp.LastEvaluatedKey == nil {
			break
		}
		startKey = resp.LastEvaluatedKey
	}
	return out, nil
}

func key(userID int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberN{Value: strconv.FormatInt(userID, 10)},
	}
}
