package command

import (
	"context"

	"github.com/example/shop-checkout/internal/domain/cart"
	"github.com/example/shop-checkout/internal/domain/coupon"
	"github.com/example/shop-checkout/internal/domain/inventory"
	"github.com/example/shop-checkout/internal/domain/order"
	"github.com/example/shop-checkout/internal/domain/payment"
	"github.com/example/shop-checkout/internal/domain/product"
	"github.com/example/shop-checkout/internal/metrics"
	"github.com/rs/zerolog"
)

type Dependencies struct {
	Products  *product.Service
	Carts     *cart.Service
	Coupons   *coupon.Service
	Orders    *order.Service
	Inventory *inventory.Service
	Payments  *payment.Service
	Delivery  order.DeliveryPolicy
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

// Handler runs every state-changing use case. Reads live in package query.
type Handler struct {
	productSvc   *product.Service
	cartSvc      *cart.Service
	couponSvc    *coupon.Service
	orderSvc     *order.Service
	inventorySvc *inventory.Service
	paymentSvc   *payment.Service
	delivery     order.DeliveryPolicy
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

func NewHandler(d Dependencies) *Handler {
	return &Handler{
		productSvc:   d.Products,
		cartSvc:      d.Carts,
		couponSvc:    d.Coupons,
		orderSvc:     d.Orders,
		inventorySvc: d.Inventory,
		paymentSvc:   d.Payments,
		delivery:     d.Delivery,
		metrics:      d.Metrics,
		logger:       d.Logger,
	}
}

func (h *Handler) CreateProduct(ctx context.Context, cmd CreateProduct) (*product.Product, error) {
	return h.productSvc.Create(ctx, cmd.Draft)
}

func (h *Handler) UpdateProduct(ctx context.Context, cmd UpdateProduct) (*product.Product, error) {
	return h.productSvc.Update(ctx, cmd.ProductID, cmd.Patch)
}

func (h *Handler) DeleteProduct(ctx context.Context, cmd DeleteProduct) error {
	return h.productSvc.Delete(ctx, cmd.ProductID)
}

func (h *Handler) AddToCart(ctx context.Context, cmd AddToCart) (*cart.Cart, error) {
	return h.cartSvc.Add(ctx, cmd.UserID, cmd.ProductID)
}

func (h *Handler) UpdateCartItem(ctx context.Context, cmd UpdateCartItem) (*cart.Cart, error) {
	return h.cartSvc.UpdateQuantity(ctx, cmd.UserID, cmd.ProductID, cmd.Quantity)
}

func (h *Handler) RemoveFromCart(ctx context.Context, cmd RemoveFromCart) (*cart.Cart, error) {
	return h.cartSvc.Remove(ctx, cmd.UserID, cmd.ProductID)
}

func (h *Handler) ClearCart(ctx context.Context, cmd ClearCart) error {
	return h.cartSvc.Clear(ctx, cmd.UserID)
}

// ApplyCoupon previews a coupon. It never touches the usage ledger.
func (h *Handler) ApplyCoupon(ctx context.Context, cmd ApplyCoupon) (*coupon.Evaluation, error) {
	return h.couponSvc.Evaluate(ctx, cmd.CouponCode, cmd.UserID, cmd.Subtotal)
}

func (h *Handler) CreateCoupon(ctx context.Context, d coupon.Draft) (*coupon.Coupon, error) {
	return h.couponSvc.Create(ctx, d)
}

func (h *Handler) CancelOrder(ctx context.Context, cmd CancelOrder) (*order.Order, error) {
	return h.orderSvc.Cancel(ctx, cmd.OrderID, cmd.UserID, cmd.Email)
}

func (h *Handler) UpdateOrderStatus(ctx context.Context, cmd UpdateOrderStatus) (*order.Order, error) {
	status, err := order.ParseStatus(cmd.Status)
	if err != nil {
		return nil, err
	}
	return h.orderSvc.UpdateStatus(ctx, cmd.OrderID, status)
}

func (h *Handler) CreatePaymentIntent(ctx context.Context, cmd CreatePaymentIntent) (*payment.Intent, error) {
	return h.paymentSvc.CreateIntent(ctx, cmd.Amount)
}

// VerifyPayment checks a gateway signature. It does not create or change
// any order.
func (h *Handler) VerifyPayment(_ context.Context, proof payment.Proof) error {
	return h.paymentSvc.Verify(proof)
}
