package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/shop-checkout/internal/domain/cart"
	"github.com/example/shop-checkout/internal/domain/coupon"
	"github.com/example/shop-checkout/internal/domain/inventory"
	"github.com/example/shop-checkout/internal/domain/order"
	"github.com/example/shop-checkout/internal/domain/payment"
	"github.com/example/shop-checkout/internal/domain/product"
	"github.com/shopspring/decimal"
)

// PlaceOrderResult carries the order and whether it was replayed from an
// earlier request with the same idempotency key.
type PlaceOrderResult struct {
	Order    *order.Order
	Replayed bool
}

// PlaceOrder turns a request (or the stored cart) into a persisted order.
//
// Stock is taken per line with a conditional decrement and the coupon ledger
// is bumped with a conditional increment. Every failure after the first
// decrement restores what was taken before returning, so a rejected request
// leaves stock and coupon usage as they were.
func (h *Handler) PlaceOrder(ctx context.Context, cmd PlaceOrder) (*PlaceOrderResult, error) {
	res, err := h.placeOrder(ctx, cmd)
	if err != nil {
		h.metrics.OrderRejected(rejectionReason(err))
		h.logger.Info().Err(err).Str("user_id", cmd.UserID).Msg("order rejected")
		return nil, err
	}
	if !res.Replayed {
		h.metrics.OrderPlaced()
		h.logger.Info().
			Str("order_id", res.Order.ID).
			Str("user_id", res.Order.UserID).
			Str("tracking_id", res.Order.TrackingID).
			Str("total", res.Order.TotalAmount.StringFixed(2)).
			Msg("order placed")
	}
	return res, nil
}

func (h *Handler) placeOrder(ctx context.Context, cmd PlaceOrder) (*PlaceOrderResult, error) {
	existing, err := h.orderSvc.FindByIdempotencyKey(ctx, cmd.UserID, cmd.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &PlaceOrderResult{Order: existing, Replayed: true}, nil
	}

	items, err := h.checkoutItems(ctx, cmd)
	if err != nil {
		return nil, err
	}
	address, err := validateRequest(cmd, items)
	if err != nil {
		return nil, err
	}

	var paymentRef string
	if cmd.Payment != nil {
		if err := h.paymentSvc.Verify(*cmd.Payment); err != nil {
			return nil, err
		}
		paymentRef = cmd.Payment.PaymentReference
	}

	lines, err := h.priceLines(ctx, items)
	if err != nil {
		return nil, err
	}
	subtotal, _ := order.Totals(lines, decimal.Zero, decimal.Zero)

	var eval *coupon.Evaluation
	if strings.TrimSpace(cmd.CouponCode) != "" {
		if eval, err = h.couponSvc.Evaluate(ctx, cmd.CouponCode, cmd.UserID, subtotal); err != nil {
			return nil, err
		}
	}

	reservation, err := h.inventorySvc.Reserve(ctx, reservationLines(lines))
	if err != nil {
		return nil, err
	}

	discount := decimal.Zero
	if eval != nil {
		if err := h.couponSvc.Redeem(ctx, eval.Coupon, cmd.UserID); err != nil {
			h.compensate(ctx, reservation, nil, cmd.UserID)
			return nil, err
		}
		h.metrics.CouponRedeemed(eval.Coupon.Code)
		discount = eval.Discount
	}

	delivery := h.delivery.Charge(subtotal)
	if cmd.DeliveryCharge != nil {
		delivery = *cmd.DeliveryCharge
	}
	_, total := order.Totals(lines, discount, delivery)

	o := &order.Order{
		UserID:           cmd.UserID,
		Lines:            lines,
		Subtotal:         subtotal,
		Discount:         discount,
		DeliveryCharge:   delivery,
		TotalAmount:      total,
		PaymentMethod:    strings.TrimSpace(cmd.PaymentMethod),
		PaymentReference: paymentRef,
		Address:          address,
		IdempotencyKey:   cmd.IdempotencyKey,
	}
	if eval != nil {
		o.CouponUsed = eval.Coupon.Code
	}

	if err := h.orderSvc.Create(ctx, o); err != nil {
		h.compensate(ctx, reservation, eval, cmd.UserID)
		if errors.Is(err, order.ErrDuplicateIdempotencyKey) {
			// A concurrent request with the same key won the insert.
			if stored, ferr := h.orderSvc.FindByIdempotencyKey(ctx, cmd.UserID, cmd.IdempotencyKey); ferr == nil && stored != nil {
				return &PlaceOrderResult{Order: stored, Replayed: true}, nil
			}
		}
		return nil, fmt.Errorf("persist order: %w", err)
	}

	if err := h.cartSvc.Clear(ctx, cmd.UserID); err != nil {
		h.logger.Error().Err(err).Str("order_id", o.ID).Msg("order placed but cart not cleared")
	}
	if err := h.orderSvc.RecordPlaced(ctx, o, cmd.Email); err != nil {
		h.logger.Error().Err(err).Str("order_id", o.ID).Msg("order placed but event not recorded")
	}
	return &PlaceOrderResult{Order: o}, nil
}

// checkoutItems returns the request lines, or the cart when there are none.
func (h *Handler) checkoutItems(ctx context.Context, cmd PlaceOrder) ([]OrderItem, error) {
	if len(cmd.Items) > 0 {
		return cmd.Items, nil
	}
	c, err := h.cartSvc.Get(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}
	return itemsFromCart(c), nil
}

func itemsFromCart(c *cart.Cart) []OrderItem {
	items := make([]OrderItem, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, OrderItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return items
}

// validateRequest runs the checks that need no stored state and returns the
// normalized address.
func validateRequest(cmd PlaceOrder, items []OrderItem) (string, error) {
	if len(items) == 0 {
		return "", order.ErrEmptyOrder
	}
	for _, it := range items {
		if it.ProductID == "" {
			return "", cart.ErrInvalidProduct
		}
		if it.Quantity < 1 {
			return "", inventory.ErrInvalidQuantity
		}
	}
	if strings.TrimSpace(cmd.PaymentMethod) == "" {
		return "", order.ErrPaymentMethodRequired
	}
	if cmd.DeliveryCharge != nil && cmd.DeliveryCharge.IsNegative() {
		return "", order.ErrInvalidDeliveryCharge
	}
	return cmd.Address.Normalize()
}

// priceLines snapshots live name and price for every line and rejects lines
// that already exceed stock.
func (h *Handler) priceLines(ctx context.Context, items []OrderItem) ([]order.Line, error) {
	lines := make([]order.Line, 0, len(items))
	for _, it := range items {
		p, err := h.productSvc.Get(ctx, it.ProductID)
		if errors.Is(err, product.ErrProductNotFound) {
			return nil, fmt.Errorf("%w: %s", product.ErrProductNotFound, it.ProductID)
		}
		if err != nil {
			return nil, err
		}
		if it.Quantity > p.Stock {
			return nil, fmt.Errorf("%s %w", p.Name, inventory.ErrOutOfStock)
		}
		lines = append(lines, order.Line{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  it.Quantity,
			UnitPrice: p.Price,
		})
	}
	return lines, nil
}

func reservationLines(lines []order.Line) []inventory.Line {
	out := make([]inventory.Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, inventory.Line{ProductID: l.ProductID, Name: l.Name, Quantity: l.Quantity})
	}
	return out
}

// compensate returns reserved stock and, when eval is set, the coupon use.
// Failures are logged; the caller's original error is what the client sees.
func (h *Handler) compensate(ctx context.Context, r *inventory.Reservation, eval *coupon.Evaluation, userID string) {
	h.metrics.Compensated()
	if err := h.inventorySvc.Release(ctx, r); err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("stock restore failed")
	}
	if eval != nil {
		if err := h.couponSvc.Unredeem(ctx, eval.Coupon.Code, userID); err != nil {
			h.logger.Error().Err(err).Str("user_id", userID).Str("coupon", eval.Coupon.Code).Msg("coupon restore failed")
		}
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, order.ErrEmptyOrder):
		return "empty_cart"
	case errors.Is(err, inventory.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, product.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, payment.ErrInvalidSignature), errors.Is(err, payment.ErrMissingProof):
		return "payment"
	case errors.Is(err, coupon.ErrInvalidCoupon),
		errors.Is(err, coupon.ErrNotStarted),
		errors.Is(err, coupon.ErrExpired),
		errors.Is(err, coupon.ErrMinimumNotMet),
		errors.Is(err, coupon.ErrNotApplicable),
		errors.Is(err, coupon.ErrUsageLimitExceeded):
		return "coupon"
	case errors.Is(err, order.ErrPaymentMethodRequired),
		errors.Is(err, order.ErrAddressRequired),
		errors.Is(err, order.ErrInvalidDeliveryCharge),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidProduct):
		return "validation"
	default:
		return "internal"
	}
}
