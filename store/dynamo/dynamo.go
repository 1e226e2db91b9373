// Package dynamo provides a DynamoDB-backed record store.
//
// Records are stored one item per record, with the namespace as partition
// key and the record ID as sort key. The record payload travels as a single
// JSON blob attribute, so the table schema never needs migration when the
// record shape evolves.
//
// Table schema:
//   - Partition key: ns (string) - the namespace
//   - Sort key: id (string) - the record ID
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name semcache-records \
//	  --attribute-definitions AttributeName=ns,AttributeType=S AttributeName=id,AttributeType=S \
//	  --key-schema AttributeName=ns,KeyType=HASH AttributeName=id,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/semcache/store"
)

// Compile time check to ensure Store satisfies the store.Store interface.
var _ store.Store = (*Store)(nil)

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Store is a DynamoDB-backed implementation of store.Store.
type Store struct {
	client    DDBClient
	tableName string
}

// New creates a DynamoDB-backed store on an existing table.
func New(client DDBClient, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
	}
}

// NewFromConfig creates a store using the default AWS config chain
// (environment, shared config, instance role).
func NewFromConfig(ctx context.Context, tableName string, optFns ...func(*awsconfig.LoadOptions) error) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return New(dynamodb.NewFromConfig(cfg), tableName), nil
}

// Put writes a record, overwriting any existing record with the same ID.
// CreatedAt of an existing record is preserved.
func (s *Store) Put(ctx context.Context, namespace string, rec store.Record) error {
	prev, ok, err := s.Get(ctx, namespace, rec.ID)
	if err != nil {
		return err
	}

	if ok {
		rec.CreatedAt = prev.CreatedAt
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"ns":      &types.AttributeValueMemberS{Value: namespace},
			"id":      &types.AttributeValueMemberS{Value: rec.ID},
			"payload": &types.AttributeValueMemberB{Value: payload},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}

	return nil
}

// Get retrieves a record. The bool reports whether it exists.
func (s *Store) Get(ctx context.Context, namespace, id string) (store.Record, bool, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"ns": &types.AttributeValueMemberS{Value: namespace},
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return store.Record{}, false, fmt.Errorf("failed to get item: %w", err)
	}

	if resp.Item == nil {
		return store.Record{}, false, nil
	}

	rec, err := decodeItem(resp.Item)
	if err != nil {
		return store.Record{}, false, err
	}

	return rec, true, nil
}

// Delete removes a record. The bool reports whether it existed.
func (s *Store) Delete(ctx context.Context, namespace, id string) (bool, error) {
	resp, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"ns": &types.AttributeValueMemberS{Value: namespace},
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete item: %w", err)
	}

	return len(resp.Attributes) > 0, nil
}

// List returns all records of a namespace, following pagination.
func (s *Store) List(ctx context.Context, namespace string) ([]store.Record, error) {
	var (
		records  []store.Record
		startKey map[string]types.AttributeValue
	)

	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("ns = :ns"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":ns": &types.AttributeValueMemberS{Value: namespace},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query namespace %q: %w", namespace, err)
		}

		for _, item := range resp.Items {
			rec, err := decodeItem(item)
			if err != nil {
				return nil, err
			}

			records = append(records, rec)
		}

		if resp.LastEvaluatedKey == nil {
			break
		}

		startKey = resp.LastEvaluatedKey
	}

	return records, nil
}

// Len returns the number of records in a namespace.
func (s *Store) Len(ctx context.Context, namespace string) (int, error) {
	var (
		count    int
		startKey map[string]types.AttributeValue
	)

	for {
		resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("ns = :ns"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":ns": &types.AttributeValueMemberS{Value: namespace},
			},
			Select:            types.SelectCount,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to count namespace %q: %w", namespace, err)
		}

		count += int(resp.Count)

		if resp.LastEvaluatedKey == nil {
			break
		}

		startKey = resp.LastEvaluatedKey
	}

	return count, nil
}

func decodeItem(item map[string]types.AttributeValue) (store.Record, error) {
	payload, ok := item["payload"].(*types.AttributeValueMemberB)
	if !ok {
		return store.Record{}, errors.New("invalid payload attribute in DynamoDB item")
	}

	var rec store.Record
	if err := json.Unmarshal(payload.Value, &rec); err != nil {
		return store.Record{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	return rec, nil
}
