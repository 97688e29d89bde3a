package query

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// CartItemView is a cart line joined with the live product record.
type CartItemView struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

// CartView is what GET /cart returns. Lines whose product no longer exists
// are listed under Unavailable and excluded from Subtotal.
type CartView struct {
	UserID      string          `json:"userId"`
	Items       []CartItemView  `json:"items"`
	Unavailable []string        `json:"unavailable,omitempty"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	UpdatedAt   time.Time       `json:"updatedAt,omitempty"`
}

// HistoryEntry is one event from an order's log.
type HistoryEntry struct {
	Version   int             `json:"version"`
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}
