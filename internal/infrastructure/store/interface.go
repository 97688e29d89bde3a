package store

import (
	"context"
	"errors"
)

// ErrPublish is returned by Append when the event was stored but could not be
// handed to the bus. The returned *Event is still valid in that case.
var ErrPublish = errors.New("event stored but not published")

// EventStoreInterface defines the interface for event stores
type EventStoreInterface interface {
	Append(ctx context.Context, aggregateID, aggregateType, eventType string, data any) (*Event, error)
	GetEvents(ctx context.Context, aggregateID string) ([]Event, error)
}
