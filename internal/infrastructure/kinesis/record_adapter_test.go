package kinesis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/example/shop-checkout/internal/infrastructure/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderImage(id, eventType string) map[string]events.DynamoDBAttributeValue {
	return map[string]events.DynamoDBAttributeValue{
		"id":             events.NewStringAttribute(id),
		"aggregate_id":   events.NewStringAttribute("order-456"),
		"aggregate_type": events.NewStringAttribute("Order"),
		"event_type":     events.NewStringAttribute(eventType),
		"data":           events.NewStringAttribute(`{"order_id":"order-456"}`),
		"created_at":     events.NewStringAttribute("2026-01-15T10:30:00.123456789Z"),
		"version":        events.NewNumberAttribute("2"),
	}
}

func kinesisRecord(t *testing.T, seq string, change events.DynamoDBEventRecord) events.KinesisEventRecord {
	t.Helper()
	data, err := json.Marshal(change)
	require.NoError(t, err)
	return events.KinesisEventRecord{
		EventID: "shard-1:" + seq,
		Kinesis: events.KinesisRecord{Data: data, SequenceNumber: seq},
	}
}

func insert(image map[string]events.DynamoDBAttributeValue) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{
		EventName: "INSERT",
		Change:    events.DynamoDBStreamRecord{NewImage: image},
	}
}

// ============================================
// Decoding
// ============================================

func TestEventFromImage(t *testing.T) {
	tests := []struct {
		name    string
		image   map[string]events.DynamoDBAttributeValue
		wantErr bool
	}{
		{name: "valid event", image: orderImage("event-123", "OrderPlaced")},
		{name: "nil image", image: nil, wantErr: true},
		{
			name:    "missing required fields",
			image:   map[string]events.DynamoDBAttributeValue{"id": events.NewStringAttribute("event-123")},
			wantErr: true,
		},
		{
			name: "bad timestamp",
			image: func() map[string]events.DynamoDBAttributeValue {
				img := orderImage("event-123", "OrderPlaced")
				img["created_at"] = events.NewStringAttribute("yesterday")
				return img
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := eventFromImage(tt.image)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "event-123", event.ID)
			assert.Equal(t, "order-456", event.AggregateID)
			assert.Equal(t, "Order", event.AggregateType)
			assert.Equal(t, "OrderPlaced", event.EventType)
			assert.Equal(t, 2, event.Version)
			assert.JSONEq(t, `{"order_id":"order-456"}`, string(event.Data))
			assert.Equal(t, time.Date(2026, 1, 15, 10, 30, 0, 123456789, time.UTC), event.Timestamp)
		})
	}
}

func TestDecodeStreamRecord_SkipsNonInserts(t *testing.T) {
	for _, name := range []string{"MODIFY", "REMOVE"} {
		event, err := DecodeStreamRecord(events.DynamoDBEventRecord{EventName: name})
		require.NoError(t, err)
		assert.Nil(t, event, name)
	}
}

func TestDecode(t *testing.T) {
	event, err := Decode(kinesisRecord(t, "1", insert(orderImage("event-123", "OrderPlaced"))))
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "event-123", event.ID)

	_, err = Decode(events.KinesisEventRecord{Kinesis: events.KinesisRecord{Data: []byte("invalid json")}})
	assert.Error(t, err)
}

// ============================================
// Batch processing
// ============================================

func TestProcess_ReportsOnlyFailedRecords(t *testing.T) {
	var handled []store.Event
	handle := func(_ context.Context, key, value []byte) error {
		var e store.Event
		require.NoError(t, json.Unmarshal(value, &e))
		assert.Equal(t, "order-456", string(key))
		if e.ID == "event-poison" {
			return errors.New("smtp down")
		}
		handled = append(handled, e)
		return nil
	}

	batch := events.KinesisEvent{Records: []events.KinesisEventRecord{
		kinesisRecord(t, "1", insert(orderImage("event-1", "OrderPlaced"))),
		kinesisRecord(t, "2", events.DynamoDBEventRecord{EventName: "MODIFY"}),
		{EventID: "shard-1:3", Kinesis: events.KinesisRecord{Data: []byte("invalid json"), SequenceNumber: "3"}},
		kinesisRecord(t, "4", insert(orderImage("event-poison", "OrderCancelled"))),
		kinesisRecord(t, "5", insert(orderImage("event-5", "OrderCancelled"))),
	}}

	resp := Process(context.Background(), batch, handle, zerolog.Nop())

	require.Len(t, handled, 2)
	assert.Equal(t, "event-1", handled[0].ID)
	assert.Equal(t, "event-5", handled[1].ID)
	assert.Equal(t, []events.KinesisBatchItemFailure{
		{ItemIdentifier: "3"},
		{ItemIdentifier: "4"},
	}, resp.BatchItemFailures)
}

func TestProcess_EmptyBatch(t *testing.T) {
	resp := Process(context.Background(), events.KinesisEvent{}, func(context.Context, []byte, []byte) error {
		t.Fatal("handler must not be called")
		return nil
	}, zerolog.Nop())

	assert.Empty(t, resp.BatchItemFailures)
}
