package kinesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/example/shop-checkout/internal/infrastructure/store"
	"github.com/rs/zerolog"
)

var ErrNilImage = errors.New("dynamodb image is nil")

// MessageHandler has the same shape as the Kafka consumer's handler so one
// notification handler serves both deliveries.
type MessageHandler func(ctx context.Context, key, value []byte) error

// Decode unwraps a Kinesis record carrying a DynamoDB change from the event
// table. Changes other than INSERT yield (nil, nil).
func Decode(record events.KinesisEventRecord) (*store.Event, error) {
	var change events.DynamoDBEventRecord
	if err := json.Unmarshal(record.Kinesis.Data, &change); err != nil {
		return nil, fmt.Errorf("unmarshal dynamodb change: %w", err)
	}
	return DecodeStreamRecord(change)
}

// DecodeStreamRecord handles a record read straight from DynamoDB Streams.
func DecodeStreamRecord(record events.DynamoDBEventRecord) (*store.Event, error) {
	if record.EventName != string(events.DynamoDBOperationTypeInsert) {
		return nil, nil
	}
	return eventFromImage(record.Change.NewImage)
}

func eventFromImage(image map[string]events.DynamoDBAttributeValue) (*store.Event, error) {
	if image == nil {
		return nil, ErrNilImage
	}

	str := func(name string) string {
		if v, ok := image[name]; ok && v.DataType() == events.DataTypeString {
			return v.String()
		}
		return ""
	}

	event := &store.Event{
		ID:            str("id"),
		AggregateID:   str("aggregate_id"),
		AggregateType: str("aggregate_type"),
		EventType:     str("event_type"),
		Data:          json.RawMessage(str("data")),
	}
	if event.ID == "" || event.AggregateID == "" || event.EventType == "" {
		return nil, fmt.Errorf("missing required fields: id=%q aggregate_id=%q event_type=%q",
			event.ID, event.AggregateID, event.EventType)
	}

	if raw := str("created_at"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		event.Timestamp = t
	}
	if v, ok := image["version"]; ok {
		version, err := v.Integer()
		if err != nil {
			return nil, fmt.Errorf("parse version: %w", err)
		}
		event.Version = int(version)
	}
	return event, nil
}

// Process feeds every inserted event of the batch to handle, keyed by
// aggregate id. Records that cannot be decoded or handled are reported as
// batch item failures so Lambda retries only those.
func Process(ctx context.Context, batch events.KinesisEvent, handle MessageHandler, logger zerolog.Logger) events.KinesisEventResponse {
	var failures []events.KinesisBatchItemFailure
	fail := func(record events.KinesisEventRecord, err error, msg string) {
		logger.Error().Err(err).Str("record", record.EventID).Msg(msg)
		failures = append(failures, events.KinesisBatchItemFailure{ItemIdentifier: record.Kinesis.SequenceNumber})
	}

	for _, record := range batch.Records {
		event, err := Decode(record)
		if err != nil {
			fail(record, err, "decode record")
			continue
		}
		if event == nil {
			continue
		}

		value, err := json.Marshal(event)
		if err != nil {
			fail(record, err, "encode event")
			continue
		}
		if err := handle(ctx, []byte(event.AggregateID), value); err != nil {
			fail(record, err, "handle event")
			continue
		}
	}

	logger.Info().
		Int("records", len(batch.Records)).
		Int("failed", len(failures)).
		Msg("batch processed")
	return events.KinesisEventResponse{BatchItemFailures: failures}
}
