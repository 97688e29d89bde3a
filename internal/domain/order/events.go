package order

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderCancelled     = "OrderCancelled"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type OrderPlaced struct {
	OrderID        string          `json:"order_id"`
	UserID         string          `json:"user_id"`
	CustomerEmail  string          `json:"customer_email,omitempty"`
	Lines          []Line          `json:"lines"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	DeliveryCharge decimal.Decimal `json:"delivery_charge"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	CouponUsed     string          `json:"coupon_used,omitempty"`
	PaymentMethod  string          `json:"payment_method"`
	Address        string          `json:"address"`
	TrackingID     string          `json:"tracking_id"`
	PlacedAt       time.Time       `json:"placed_at"`
}

type OrderCancelled struct {
	OrderID       string    `json:"order_id"`
	UserID        string    `json:"user_id"`
	CustomerEmail string    `json:"customer_email,omitempty"`
	TrackingID    string    `json:"tracking_id"`
	CancelledAt   time.Time `json:"cancelled_at"`
}

type OrderStatusChanged struct {
	OrderID   string    `json:"order_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	ChangedAt time.Time `json:"changed_at"`
}
