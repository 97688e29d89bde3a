package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/example/shop-checkout/internal/api/middleware"
	"github.com/example/shop-checkout/internal/command"
	"github.com/example/shop-checkout/internal/domain/coupon"
	"github.com/example/shop-checkout/internal/domain/payment"
	"github.com/example/shop-checkout/internal/domain/product"
	"github.com/example/shop-checkout/internal/query"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

type Handlers struct {
	cmdHandler   *command.Handler
	queryHandler *query.Handler
	logger       zerolog.Logger
}

func NewHandlers(cmdHandler *command.Handler, queryHandler *query.Handler, logger zerolog.Logger) *Handlers {
	return &Handlers{
		cmdHandler:   cmdHandler,
		queryHandler: queryHandler,
		logger:       logger,
	}
}

// Product Handlers

func (h *Handlers) GetProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.queryHandler.ListProducts(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.queryHandler.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var draft product.Draft
	if err := decodeJSON(w, r, &draft); err != nil {
		h.respondError(w, r, err)
		return
	}

	p, err := h.cmdHandler.CreateProduct(r.Context(), command.CreateProduct{Draft: draft})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (h *Handlers) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var patch product.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		h.respondError(w, r, err)
		return
	}

	p, err := h.cmdHandler.UpdateProduct(r.Context(), command.UpdateProduct{
		ProductID: chi.URLParam(r, "id"),
		Patch:     patch,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handlers) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.cmdHandler.DeleteProduct(r.Context(), command.DeleteProduct{ProductID: chi.URLParam(r, "id")}); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Product deleted"})
}

// Cart Handlers

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.queryHandler.GetCart(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	var cmd command.AddToCart
	if err := decodeJSON(w, r, &cmd); err != nil {
		h.respondError(w, r, err)
		return
	}
	cmd.UserID = middleware.GetUserID(r.Context())

	c, err := h.cmdHandler.AddToCart(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var cmd command.UpdateCartItem
	if err := decodeJSON(w, r, &cmd); err != nil {
		h.respondError(w, r, err)
		return
	}
	cmd.UserID = middleware.GetUserID(r.Context())

	c, err := h.cmdHandler.UpdateCartItem(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.cmdHandler.RemoveFromCart(r.Context(), command.RemoveFromCart{
		UserID:    middleware.GetUserID(r.Context()),
		ProductID: chi.URLParam(r, "productId"),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.cmdHandler.ClearCart(r.Context(), command.ClearCart{UserID: middleware.GetUserID(r.Context())}); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Cart cleared"})
}

// Coupon Handlers

func (h *Handlers) ListCoupons(w http.ResponseWriter, r *http.Request) {
	list, err := h.queryHandler.ListCoupons(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handlers) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var cmd command.ApplyCoupon
	if err := decodeJSON(w, r, &cmd); err != nil {
		h.respondError(w, r, err)
		return
	}
	cmd.UserID = middleware.GetUserID(r.Context())

	eval, err := h.cmdHandler.ApplyCoupon(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"code":     eval.Coupon.Code,
		"discount": eval.Discount,
	})
}

func (h *Handlers) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var draft coupon.Draft
	if err := decodeJSON(w, r, &draft); err != nil {
		h.respondError(w, r, err)
		return
	}

	c, err := h.cmdHandler.CreateCoupon(r.Context(), draft)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

// Order Handlers

func (h *Handlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var cmd command.PlaceOrder
	if err := decodeJSON(w, r, &cmd); err != nil {
		h.respondError(w, r, err)
		return
	}
	if claims, ok := middleware.GetUserFromContext(r.Context()); ok {
		cmd.UserID = claims.UserID
		cmd.Email = claims.Email
	}
	cmd.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))

	res, err := h.cmdHandler.PlaceOrder(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	respondJSON(w, status, res.Order)
}

func (h *Handlers) GetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.queryHandler.ListOrders(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.queryHandler.GetOrder(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	cmd := command.CancelOrder{OrderID: chi.URLParam(r, "id")}
	if claims, ok := middleware.GetUserFromContext(r.Context()); ok {
		cmd.UserID = claims.UserID
		cmd.Email = claims.Email
	}

	o, err := h.cmdHandler.CancelOrder(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message": "Order cancelled",
		"order":   o,
	})
}

// Admin Handlers

func (h *Handlers) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var cmd command.UpdateOrderStatus
	if err := decodeJSON(w, r, &cmd); err != nil {
		h.respondError(w, r, err)
		return
	}
	cmd.OrderID = chi.URLParam(r, "id")

	o, err := h.cmdHandler.UpdateOrderStatus(r.Context(), cmd)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) OrderHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.queryHandler.OrderHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

// Payment Handlers

func (h *Handlers) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount *decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.Amount == nil {
		h.respondError(w, r, fmt.Errorf("%w: amount required", ErrBadRequest))
		return
	}

	intent, err := h.cmdHandler.CreatePaymentIntent(r.Context(), command.CreatePaymentIntent{Amount: *req.Amount})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, intent)
}

// verifyRequest accepts the gateway's checkout field names as aliases.
type verifyRequest struct {
	payment.Proof
	GatewayOrderID   string `json:"razorpay_order_id"`
	GatewayPaymentID string `json:"razorpay_payment_id"`
	GatewaySignature string `json:"razorpay_signature"`
}

func (v verifyRequest) proof() payment.Proof {
	p := v.Proof
	if p.OrderReference == "" {
		p.OrderReference = v.GatewayOrderID
	}
	if p.PaymentReference == "" {
		p.PaymentReference = v.GatewayPaymentID
	}
	if p.Signature == "" {
		p.Signature = v.GatewaySignature
	}
	return p
}

func (h *Handlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	if err := h.cmdHandler.VerifyPayment(r.Context(), req.proof()); err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		// An empty body leaves dst at its zero value.
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}
