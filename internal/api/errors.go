package api

import (
	"errors"
	"net/http"

	"github.com/example/shop-checkout/internal/domain/cart"
	"github.com/example/shop-checkout/internal/domain/coupon"
	"github.com/example/shop-checkout/internal/domain/inventory"
	"github.com/example/shop-checkout/internal/domain/order"
	"github.com/example/shop-checkout/internal/domain/payment"
	"github.com/example/shop-checkout/internal/domain/product"
)

// ErrBadRequest marks a request body or query that could not be decoded.
var ErrBadRequest = errors.New("invalid request body")

type errorStatus struct {
	err    error
	status int
}

// errorTable is checked in order with errors.Is; the first match wins.
var errorTable = []errorStatus{
	// not found
	{product.ErrProductNotFound, http.StatusNotFound},
	{order.ErrOrderNotFound, http.StatusNotFound},
	{coupon.ErrInvalidCoupon, http.StatusNotFound},
	{cart.ErrItemNotFound, http.StatusNotFound},

	// ownership and eligibility
	{order.ErrNotAuthorized, http.StatusUnauthorized},
	{coupon.ErrNotApplicable, http.StatusForbidden},

	// gateway
	{payment.ErrGatewayUnavailable, http.StatusServiceUnavailable},

	// validation, conflicts and integrity
	{ErrBadRequest, http.StatusBadRequest},
	{inventory.ErrOutOfStock, http.StatusBadRequest},
	{inventory.ErrInvalidQuantity, http.StatusBadRequest},
	{order.ErrEmptyOrder, http.StatusBadRequest},
	{order.ErrPaymentMethodRequired, http.StatusBadRequest},
	{order.ErrAddressRequired, http.StatusBadRequest},
	{order.ErrInvalidDeliveryCharge, http.StatusBadRequest},
	{order.ErrInvalidStatus, http.StatusBadRequest},
	{order.ErrInvalidTransition, http.StatusBadRequest},
	{order.ErrCannotCancel, http.StatusBadRequest},
	{order.ErrOrderCancelled, http.StatusBadRequest},
	{order.ErrStatusChanged, http.StatusBadRequest},
	{coupon.ErrCouponRequired, http.StatusBadRequest},
	{coupon.ErrNotStarted, http.StatusBadRequest},
	{coupon.ErrExpired, http.StatusBadRequest},
	{coupon.ErrMinimumNotMet, http.StatusBadRequest},
	{coupon.ErrUsageLimitExceeded, http.StatusBadRequest},
	{coupon.ErrDuplicateCode, http.StatusBadRequest},
	{coupon.ErrInvalidType, http.StatusBadRequest},
	{coupon.ErrInvalidValue, http.StatusBadRequest},
	{coupon.ErrInvalidPercentage, http.StatusBadRequest},
	{coupon.ErrInvalidUsageLimit, http.StatusBadRequest},
	{coupon.ErrInvalidWindow, http.StatusBadRequest},
	{coupon.ErrInvalidSubtotal, http.StatusBadRequest},
	{cart.ErrInvalidProduct, http.StatusBadRequest},
	{cart.ErrInvalidQuantity, http.StatusBadRequest},
	{cart.ErrStockLimit, http.StatusBadRequest},
	{cart.ErrStockExceeded, http.StatusBadRequest},
	{product.ErrInvalidName, http.StatusBadRequest},
	{product.ErrInvalidCategory, http.StatusBadRequest},
	{product.ErrInvalidPrice, http.StatusBadRequest},
	{product.ErrInvalidStock, http.StatusBadRequest},
	{payment.ErrInvalidSignature, http.StatusBadRequest},
	{payment.ErrMissingProof, http.StatusBadRequest},
	{payment.ErrInvalidAmount, http.StatusBadRequest},
}

// statusFor maps a use-case error to its HTTP status. Unknown errors are 500.
func statusFor(err error) int {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": msg}. Server errors are logged with their
// detail and reported with a generic message.
func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		if status == http.StatusInternalServerError {
			msg = "internal server error"
		}
	}
	respondJSON(w, status, map[string]string{"error": msg})
}
