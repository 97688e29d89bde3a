package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const AggregateType = "Order"

type Status string

const (
	StatusProcessing     Status = "Processing"
	StatusConfirmed      Status = "Confirmed"
	StatusShipped        Status = "Shipped"
	StatusOutForDelivery Status = "Out for Delivery"
	StatusDelivered      Status = "Delivered"
	StatusCancelled      Status = "Cancelled"
)

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrEmptyOrder              = errors.New("cart is empty")
	ErrNotAuthorized           = errors.New("not authorized")
	ErrInvalidStatus           = errors.New("invalid order status")
	ErrInvalidTransition       = errors.New("invalid order status transition")
	ErrCannotCancel            = errors.New("order cannot be cancelled now")
	ErrOrderCancelled          = errors.New("order is already cancelled")
	ErrStatusChanged           = errors.New("order status changed concurrently")
	ErrPaymentMethodRequired   = errors.New("paymentMethod is required")
	ErrInvalidDeliveryCharge   = errors.New("deliveryCharge must not be negative")
	ErrDuplicateIdempotencyKey = errors.New("order with this idempotency key already exists")
	ErrDuplicateTrackingID     = errors.New("tracking id already in use")
)

var allStatuses = []Status{
	StatusProcessing,
	StatusConfirmed,
	StatusShipped,
	StatusOutForDelivery,
	StatusDelivered,
	StatusCancelled,
}

// ParseStatus accepts only the six known status values, matched exactly.
func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// cancellable lists the states from which an owner may cancel.
var cancellable = []Status{StatusProcessing, StatusConfirmed}

// validTransitions is enforced only in strict mode.
var validTransitions = map[Status][]Status{
	StatusProcessing:     {StatusConfirmed, StatusShipped, StatusCancelled},
	StatusConfirmed:      {StatusShipped, StatusCancelled},
	StatusShipped:        {StatusOutForDelivery, StatusDelivered},
	StatusOutForDelivery: {StatusDelivered},
	StatusDelivered:      {}, // terminal state
	StatusCancelled:      {}, // terminal state
}

type Line struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID               string          `json:"id"`
	UserID           string          `json:"userId"`
	Lines            []Line          `json:"items"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Discount         decimal.Decimal `json:"discount"`
	DeliveryCharge   decimal.Decimal `json:"deliveryCharge"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	CouponUsed       string          `json:"couponUsed,omitempty"`
	PaymentMethod    string          `json:"paymentMethod"`
	PaymentReference string          `json:"paymentReference,omitempty"`
	Address          string          `json:"address"`
	Status           Status          `json:"orderStatus"`
	TrackingID       string          `json:"trackingId"`
	IdempotencyKey   string          `json:"-"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// CanTransitionTo checks if the order can transition to the target status
func (o *Order) CanTransitionTo(target Status) bool {
	allowed, exists := validTransitions[o.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// transitionError returns an appropriate error for an invalid transition
func (o *Order) transitionError(target Status) error {
	switch {
	case o.Status == StatusCancelled:
		return ErrOrderCancelled
	case target == StatusCancelled:
		return ErrCannotCancel
	default:
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, o.Status, target)
	}
}

// cancelError explains why the owner may not cancel.
func (o *Order) cancelError() error {
	if o.Status == StatusCancelled {
		return ErrOrderCancelled
	}
	return ErrCannotCancel
}

func (o *Order) Cancellable() bool {
	for _, s := range cancellable {
		if o.Status == s {
			return true
		}
	}
	return false
}

// Totals computes subtotal from the lines and the final amount.
func Totals(lines []Line, discount, delivery decimal.Decimal) (subtotal, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Total())
	}
	return subtotal, subtotal.Sub(discount).Add(delivery)
}

// Repository persists orders. UpdateStatus applies the change only while the
// stored status is one of from (any status when from is empty) and returns
// ErrStatusChanged when that guard fails.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, to Status, from []Status) (*Order, error)
}

// DeliveryPolicy charges Fee unless the subtotal exceeds FreeThreshold.
type DeliveryPolicy struct {
	FreeThreshold decimal.Decimal
	Fee           decimal.Decimal
}

func (p DeliveryPolicy) Charge(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThan(p.FreeThreshold) {
		return decimal.Zero
	}
	return p.Fee
}
