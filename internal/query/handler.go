package query

import (
	"context"
	"errors"

	"github.com/example/shop-checkout/internal/domain/cart"
	"github.com/example/shop-checkout/internal/domain/coupon"
	"github.com/example/shop-checkout/internal/domain/order"
	"github.com/example/shop-checkout/internal/domain/product"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Handler serves every read use case.
type Handler struct {
	products *product.Service
	carts    *cart.Service
	coupons  *coupon.Service
	orders   *order.Service
	logger   zerolog.Logger
}

func NewHandler(products *product.Service, carts *cart.Service, coupons *coupon.Service, orders *order.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		products: products,
		carts:    carts,
		coupons:  coupons,
		orders:   orders,
		logger:   logger,
	}
}

// Products
func (h *Handler) GetProduct(ctx context.Context, id string) (*product.Product, error) {
	return h.products.Get(ctx, id)
}

// ListProducts returns products newest first, optionally for one category.
func (h *Handler) ListProducts(ctx context.Context, category string) ([]product.Product, error) {
	return h.products.List(ctx, product.ListFilter{Category: category})
}

// Cart
func (h *Handler) GetCart(ctx context.Context, userID string) (*CartView, error) {
	c, err := h.carts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	view := &CartView{
		UserID:    userID,
		Items:     make([]CartItemView, 0, len(c.Items)),
		Subtotal:  decimal.Zero,
		UpdatedAt: c.UpdatedAt,
	}
	for _, it := range c.Items {
		p, err := h.products.Get(ctx, it.ProductID)
		if errors.Is(err, product.ErrProductNotFound) {
			h.logger.Debug().Str("user_id", userID).Str("product_id", it.ProductID).Msg("cart line references missing product")
			view.Unavailable = append(view.Unavailable, it.ProductID)
			continue
		}
		if err != nil {
			return nil, err
		}
		line := p.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		view.Items = append(view.Items, CartItemView{
			ProductID: p.ID,
			Name:      p.Name,
			Image:     p.Image,
			Price:     p.Price,
			Stock:     p.Stock,
			Quantity:  it.Quantity,
			LineTotal: line,
		})
		view.Subtotal = view.Subtotal.Add(line)
	}
	return view, nil
}

// Coupons

// ListCoupons returns coupons usable right now, without the usage ledger or
// the allow-list.
func (h *Handler) ListCoupons(ctx context.Context) ([]coupon.Coupon, error) {
	list, err := h.coupons.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]coupon.Coupon, 0, len(list))
	for _, c := range list {
		out = append(out, c.Public())
	}
	return out, nil
}

// Orders
func (h *Handler) GetOrder(ctx context.Context, orderID, userID string) (*order.Order, error) {
	return h.orders.Get(ctx, orderID, userID)
}

func (h *Handler) ListOrders(ctx context.Context, userID string) ([]order.Order, error) {
	return h.orders.ListForUser(ctx, userID)
}

// OrderHistory returns the order's event log, oldest first.
func (h *Handler) OrderHistory(ctx context.Context, orderID string) ([]HistoryEntry, error) {
	events, err := h.orders.History(ctx, orderID)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(events))
	for _, e := range events {
		out = append(out, HistoryEntry{
			Version:   e.Version,
			EventType: e.EventType,
			Data:      e.Data,
			Timestamp: e.Timestamp,
		})
	}
	return out, nil
}
