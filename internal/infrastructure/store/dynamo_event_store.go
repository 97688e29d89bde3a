package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// appendAttempts bounds retries when another writer takes the same version.
const appendAttempts = 3

// DynamoEventStore stores events in DynamoDB.
// The table is expected to stream inserts to Kinesis; nothing is published
// from here.
type DynamoEventStore struct {
	client    *dynamodb.Client
	tableName string
}

// dynamoEvent is the item layout. aggregate_id is the partition key and
// version the sort key.
type dynamoEvent struct {
	AggregateID   string `dynamodbav:"aggregate_id"`
	Version       int    `dynamodbav:"version"`
	ID            string `dynamodbav:"id"`
	AggregateType string `dynamodbav:"aggregate_type"`
	EventType     string `dynamodbav:"event_type"`
	Data          string `dynamodbav:"data"`
	CreatedAt     string `dynamodbav:"created_at"`
}

// NewDynamoClient builds a client from the default credential chain.
// A non-empty endpoint points it at a local DynamoDB.
func NewDynamoClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func NewDynamoEventStore(client *dynamodb.Client, tableName string) *DynamoEventStore {
	return &DynamoEventStore{
		client:    client,
		tableName: tableName,
	}
}

func (es *DynamoEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, data any) (*Event, error) {
	event, err := newEvent(aggregateID, aggregateType, eventType, data, 0)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		version, err := es.nextVersion(ctx, aggregateID)
		if err != nil {
			return nil, fmt.Errorf("failed to get next version: %w", err)
		}
		event.Version = version

		err = es.put(ctx, event)
		if err == nil {
			return &event, nil
		}
		var ccf *types.ConditionalCheckFailedException
		if !errors.As(err, &ccf) || attempt == appendAttempts {
			return nil, fmt.Errorf("failed to put event: %w", err)
		}
	}
}

func (es *DynamoEventStore) put(ctx context.Context, event Event) error {
	av, err := attributevalue.MarshalMap(dynamoEvent{
		AggregateID:   event.AggregateID,
		Version:       event.Version,
		ID:            event.ID,
		AggregateType: event.AggregateType,
		EventType:     event.EventType,
		Data:          string(event.Data),
		CreatedAt:     event.Timestamp.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = es.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(es.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(aggregate_id) AND attribute_not_exists(version)"),
	})
	return err
}

func (es *DynamoEventStore) nextVersion(ctx context.Context, aggregateID string) (int, error) {
	result, err := es.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
		},
		ScanIndexForward:     aws.Bool(false),
		Limit:                aws.Int32(1),
		ProjectionExpression: aws.String("version"),
		ConsistentRead:       aws.Bool(true),
	})
	if err != nil {
		return 0, err
	}
	if len(result.Items) == 0 {
		return 1, nil
	}

	v, ok := result.Items[0]["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("version attribute missing for %s", aggregateID)
	}
	current, err := strconv.Atoi(v.Value)
	if err != nil {
		return 0, fmt.Errorf("parse version %q: %w", v.Value, err)
	}
	return current + 1, nil
}

// GetEvents pages through all events of an aggregate in version order.
func (es *DynamoEventStore) GetEvents(ctx context.Context, aggregateID string) ([]Event, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
		},
		ScanIndexForward: aws.Bool(true),
	}

	var events []Event
	for {
		result, err := es.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query events: %w", err)
		}
		for _, item := range result.Items {
			var de dynamoEvent
			if err := attributevalue.UnmarshalMap(item, &de); err != nil {
				return nil, fmt.Errorf("unmarshal event: %w", err)
			}
			ts, _ := time.Parse(time.RFC3339Nano, de.CreatedAt)
			events = append(events, Event{
				ID:            de.ID,
				AggregateID:   de.AggregateID,
				AggregateType: de.AggregateType,
				EventType:     de.EventType,
				Data:          json.RawMessage(de.Data),
				Timestamp:     ts,
				Version:       de.Version,
			})
		}
		if len(result.LastEvaluatedKey) == 0 {
			return events, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}
