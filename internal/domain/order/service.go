package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/shop-checkout/internal/infrastructure/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// trackingAttempts bounds retries when another instance issued the same id.
const trackingAttempts = 3

type Service struct {
	repo       Repository
	eventStore store.EventStoreInterface
	tracking   *TrackingGenerator
	strict     bool
	logger     zerolog.Logger
}

type Option func(*Service)

// WithStrictTransitions makes UpdateStatus follow validTransitions.
func WithStrictTransitions(strict bool) Option {
	return func(s *Service) { s.strict = strict }
}

func WithTrackingGenerator(g *TrackingGenerator) Option {
	return func(s *Service) { s.tracking = g }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(repo Repository, es store.EventStoreInterface, opts ...Option) *Service {
	s := &Service{
		repo:       repo,
		eventStore: es,
		tracking:   NewTrackingGenerator(nil),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create assigns id, tracking id, status and timestamps, then persists o.
// ErrDuplicateIdempotencyKey is passed through untouched.
func (s *Service) Create(ctx context.Context, o *Order) error {
	now := time.Now().UTC()
	o.ID = uuid.New().String()
	o.Status = StatusProcessing
	o.CreatedAt = now
	o.UpdatedAt = now

	for attempt := 1; ; attempt++ {
		o.TrackingID = s.tracking.Next()
		err := s.repo.Create(ctx, o)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateTrackingID) || attempt == trackingAttempts {
			return err
		}
	}
}

// RecordPlaced appends OrderPlaced for a persisted order.
func (s *Service) RecordPlaced(ctx context.Context, o *Order, email string) error {
	return s.record(ctx, o.ID, EventOrderPlaced, OrderPlaced{
		OrderID:        o.ID,
		UserID:         o.UserID,
		CustomerEmail:  email,
		Lines:          o.Lines,
		Subtotal:       o.Subtotal,
		Discount:       o.Discount,
		DeliveryCharge: o.DeliveryCharge,
		TotalAmount:    o.TotalAmount,
		CouponUsed:     o.CouponUsed,
		PaymentMethod:  o.PaymentMethod,
		Address:        o.Address,
		TrackingID:     o.TrackingID,
		PlacedAt:       o.CreatedAt,
	})
}

// FindByIdempotencyKey returns nil, nil when no order carries the key.
func (s *Service) FindByIdempotencyKey(ctx context.Context, userID, key string) (*Order, error) {
	if key == "" {
		return nil, nil
	}
	o, err := s.repo.FindByIdempotencyKey(ctx, userID, key)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, nil
	}
	return o, err
}

// Get returns the order only to its owner.
func (s *Service) Get(ctx context.Context, orderID, userID string) (*Order, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotAuthorized
	}
	return o, nil
}

// ListForUser returns the user's orders, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Order, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Cancel moves an owned Processing or Confirmed order to Cancelled. Stock and
// coupon usage are left as they are.
func (s *Service) Cancel(ctx context.Context, orderID, userID, email string) (*Order, error) {
	o, err := s.Get(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if !o.Cancellable() {
		return nil, o.cancelError()
	}

	updated, err := s.repo.UpdateStatus(ctx, orderID, StatusCancelled, cancellable)
	if errors.Is(err, ErrStatusChanged) {
		current, gerr := s.repo.Get(ctx, orderID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, current.cancelError()
	}
	if err != nil {
		return nil, err
	}

	if err := s.record(ctx, orderID, EventOrderCancelled, OrderCancelled{
		OrderID:       orderID,
		UserID:        userID,
		CustomerEmail: email,
		TrackingID:    updated.TrackingID,
		CancelledAt:   updated.UpdatedAt,
	}); err != nil {
		s.logger.Error().Err(err).Str("order_id", orderID).Msg("order cancelled but event not recorded")
	}
	return updated, nil
}

// UpdateStatus sets an administrative status. Without strict mode any value
// is accepted; with it the transition table applies.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to Status) (*Order, error) {
	if _, err := ParseStatus(string(to)); err != nil {
		return nil, err
	}
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var from []Status
	if s.strict {
		if !o.CanTransitionTo(to) {
			return nil, o.transitionError(to)
		}
		from = []Status{o.Status}
	}

	updated, err := s.repo.UpdateStatus(ctx, orderID, to, from)
	if err != nil {
		return nil, err
	}
	if err := s.record(ctx, orderID, EventOrderStatusChanged, OrderStatusChanged{
		OrderID:   orderID,
		From:      o.Status,
		To:        to,
		ChangedAt: updated.UpdatedAt,
	}); err != nil {
		s.logger.Error().Err(err).Str("order_id", orderID).Msg("status changed but event not recorded")
	}
	return updated, nil
}

// History returns the order's event log.
func (s *Service) History(ctx context.Context, orderID string) ([]store.Event, error) {
	if _, err := s.repo.Get(ctx, orderID); err != nil {
		return nil, err
	}
	return s.eventStore.GetEvents(ctx, orderID)
}

func (s *Service) record(ctx context.Context, orderID, eventType string, data any) error {
	if _, err := s.eventStore.Append(ctx, orderID, AggregateType, eventType, data); err != nil && !errors.Is(err, store.ErrPublish) {
		return fmt.Errorf("append %s: %w", eventType, err)
	}
	return nil
}
