package command

import (
	"encoding/json"
	"errors"

	"github.com/example/shop-checkout/internal/domain/order"
	"github.com/example/shop-checkout/internal/domain/payment"
	"github.com/example/shop-checkout/internal/domain/product"
	"github.com/shopspring/decimal"
)

// Product Commands
type CreateProduct struct {
	product.Draft
}

type UpdateProduct struct {
	ProductID string `json:"-"`
	Patch     product.Patch
}

type DeleteProduct struct {
	ProductID string `json:"-"`
}

// Cart Commands
type AddToCart struct {
	UserID    string `json:"-"`
	ProductID string `json:"productId"`
}

type UpdateCartItem struct {
	UserID    string `json:"-"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type RemoveFromCart struct {
	UserID    string `json:"-"`
	ProductID string `json:"-"`
}

type ClearCart struct {
	UserID string `json:"-"`
}

// Coupon Commands
type ApplyCoupon struct {
	UserID     string          `json:"-"`
	CouponCode string          `json:"couponCode"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

// Order Commands
type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

var errMalformedProductRef = errors.New("product must be an id or an object with _id")

// UnmarshalJSON also accepts the storefront's line shape, where the product
// is sent under "product" as either a bare id or a document with "_id".
func (i *OrderItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		ProductID string          `json:"productId"`
		Product   json.RawMessage `json:"product"`
		Quantity  int             `json:"quantity"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	i.ProductID = raw.ProductID
	i.Quantity = raw.Quantity
	if i.ProductID != "" || len(raw.Product) == 0 || string(raw.Product) == "null" {
		return nil
	}

	var id string
	if err := json.Unmarshal(raw.Product, &id); err == nil {
		i.ProductID = id
		return nil
	}
	var doc struct {
		ID  string `json:"_id"`
		Alt string `json:"id"`
	}
	if err := json.Unmarshal(raw.Product, &doc); err != nil {
		return errMalformedProductRef
	}
	i.ProductID = doc.ID
	if i.ProductID == "" {
		i.ProductID = doc.Alt
	}
	return nil
}

// PlaceOrder is a checkout request. Items may be empty, in which case the
// stored cart is used. Client-sent prices and totals are never read.
type PlaceOrder struct {
	UserID         string `json:"-"`
	Email          string `json:"-"`
	IdempotencyKey string `json:"-"`

	Items          []OrderItem        `json:"items"`
	Address        order.AddressInput `json:"address"`
	PaymentMethod  string             `json:"paymentMethod"`
	CouponCode     string             `json:"couponUsed"`
	DeliveryCharge *decimal.Decimal   `json:"deliveryCharge"`
	Payment        *payment.Proof     `json:"payment"`
}

// UnmarshalJSON accepts "couponCode" as an alias of "couponUsed".
func (p *PlaceOrder) UnmarshalJSON(data []byte) error {
	type plain PlaceOrder
	var raw struct {
		plain
		LegacyCouponCode string `json:"couponCode"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = PlaceOrder(raw.plain)
	if p.CouponCode == "" {
		p.CouponCode = raw.LegacyCouponCode
	}
	return nil
}

type CancelOrder struct {
	OrderID string `json:"-"`
	UserID  string `json:"-"`
	Email   string `json:"-"`
}

type UpdateOrderStatus struct {
	OrderID string `json:"-"`
	Status  string `json:"status"`
}

// Payment Commands
type CreatePaymentIntent struct {
	Amount decimal.Decimal `json:"amount"`
}
