package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/example/shop-checkout/internal/domain/order"
	"github.com/example/shop-checkout/internal/email"
	"github.com/example/shop-checkout/internal/infrastructure/store"
	"github.com/rs/zerolog"
)

// Mailer sends customer emails.
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, c email.OrderConfirmation) error
	SendOrderCancelled(ctx context.Context, c email.OrderCancellation) error
}

// Handler turns order events into customer emails.
type Handler struct {
	mailer Mailer
	logger zerolog.Logger
}

func NewHandler(mailer Mailer, logger zerolog.Logger) *Handler {
	return &Handler{mailer: mailer, logger: logger}
}

// HandleEvent processes one bus message. Events that are not about orders,
// or that carry no customer email, are skipped.
func (h *Handler) HandleEvent(ctx context.Context, _, value []byte) error {
	var event store.Event
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}

	switch event.EventType {
	case order.EventOrderPlaced:
		return h.handleOrderPlaced(ctx, event)
	case order.EventOrderCancelled:
		return h.handleOrderCancelled(ctx, event)
	}
	return nil
}

func (h *Handler) handleOrderPlaced(ctx context.Context, event store.Event) error {
	var e order.OrderPlaced
	if err := json.Unmarshal(event.Data, &e); err != nil {
		return fmt.Errorf("unmarshal %s: %w", event.EventType, err)
	}
	log := h.logger.With().Str("order_id", e.OrderID).Str("user_id", e.UserID).Logger()
	if e.CustomerEmail == "" {
		log.Warn().Msg("order placed without customer email, skipping confirmation")
		return nil
	}

	items := make([]email.OrderItem, len(e.Lines))
	for i, l := range e.Lines {
		items[i] = email.OrderItem{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		}
	}

	err := h.mailer.SendOrderConfirmation(ctx, email.OrderConfirmation{
		To:             e.CustomerEmail,
		OrderID:        e.OrderID,
		TrackingID:     e.TrackingID,
		Items:          items,
		Subtotal:       e.Subtotal,
		Discount:       e.Discount,
		CouponUsed:     e.CouponUsed,
		DeliveryCharge: e.DeliveryCharge,
		Total:          e.TotalAmount,
		PaymentMethod:  e.PaymentMethod,
		Address:        e.Address,
	})
	if err != nil {
		return fmt.Errorf("order confirmation: %w", err)
	}
	log.Info().Str("tracking_id", e.TrackingID).Msg("order confirmation sent")
	return nil
}

func (h *Handler) handleOrderCancelled(ctx context.Context, event store.Event) error {
	var e order.OrderCancelled
	if err := json.Unmarshal(event.Data, &e); err != nil {
		return fmt.Errorf("unmarshal %s: %w", event.EventType, err)
	}
	if e.CustomerEmail == "" {
		h.logger.Warn().Str("order_id", e.OrderID).Msg("order cancelled without customer email, skipping notice")
		return nil
	}

	err := h.mailer.SendOrderCancelled(ctx, email.OrderCancellation{
		To:         e.CustomerEmail,
		OrderID:    e.OrderID,
		TrackingID: e.TrackingID,
	})
	if err != nil {
		return fmt.Errorf("cancellation notice: %w", err)
	}
	h.logger.Info().Str("order_id", e.OrderID).Msg("cancellation notice sent")
	return nil
}
