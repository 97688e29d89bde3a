package coupon

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	Percentage DiscountType = "PERCENTAGE"
	Flat       DiscountType = "FLAT"
)

var (
	ErrCouponRequired     = errors.New("coupon code is required")
	ErrInvalidCoupon      = errors.New("invalid coupon")
	ErrNotStarted         = errors.New("coupon not started yet")
	ErrExpired            = errors.New("coupon expired")
	ErrMinimumNotMet      = errors.New("minimum order not met")
	ErrNotApplicable      = errors.New("coupon not applicable for this user")
	ErrUsageLimitExceeded = errors.New("coupon usage limit exceeded")
	ErrDuplicateCode      = errors.New("coupon code already exists")
	ErrInvalidType        = errors.New("discountType must be PERCENTAGE or FLAT")
	ErrInvalidValue       = errors.New("discount values must not be negative")
	ErrInvalidPercentage  = errors.New("percentage discount must not exceed 100")
	ErrInvalidUsageLimit  = errors.New("usageLimitPerUser must be positive")
	ErrInvalidWindow      = errors.New("validFrom must not be after validTill")
	ErrInvalidSubtotal    = errors.New("subtotal must not be negative")
)

var hundred = decimal.NewFromInt(100)

type Coupon struct {
	Code              string          `json:"code"`
	DiscountType      DiscountType    `json:"discountType"`
	DiscountValue     decimal.Decimal `json:"discountValue"`
	MinOrderAmount    decimal.Decimal `json:"minOrderAmount"`
	MaxDiscount       decimal.Decimal `json:"maxDiscount"`
	UsageLimitPerUser int             `json:"usageLimitPerUser"`
	ValidFrom         *time.Time      `json:"validFrom,omitempty"`
	ValidTill         *time.Time      `json:"validTill,omitempty"`
	IsActive          bool            `json:"isActive"`
	ApplicableUsers   []string        `json:"applicableUsers,omitempty"`
	UsedBy            map[string]int  `json:"usedBy,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// NormalizeCode is the stored form of a code: trimmed and upper-case.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// InWindow reports whether now falls inside [ValidFrom, ValidTill]; unset
// bounds are open.
func (c *Coupon) InWindow(now time.Time) bool {
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return false
	}
	if c.ValidTill != nil && now.After(*c.ValidTill) {
		return false
	}
	return true
}

// Redemptions returns how many times userID has redeemed the coupon.
func (c *Coupon) Redemptions(userID string) int {
	return c.UsedBy[userID]
}

// Check runs every eligibility rule after the code lookup, first failure
// wins, and returns the discount for subtotal. It has no side effects.
func (c *Coupon) Check(userID string, subtotal decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return decimal.Zero, ErrNotStarted
	}
	if c.ValidTill != nil && now.After(*c.ValidTill) {
		return decimal.Zero, ErrExpired
	}
	if subtotal.LessThan(c.MinOrderAmount) {
		return decimal.Zero, fmt.Errorf("%w: requires %s", ErrMinimumNotMet, c.MinOrderAmount.StringFixed(2))
	}
	if len(c.ApplicableUsers) > 0 && !slices.Contains(c.ApplicableUsers, userID) {
		return decimal.Zero, ErrNotApplicable
	}
	if c.Redemptions(userID) >= c.UsageLimitPerUser {
		return decimal.Zero, ErrUsageLimitExceeded
	}
	return c.Discount(subtotal), nil
}

// Discount computes the amount off subtotal. Percentage discounts are capped
// by MaxDiscount when it is positive; flat discounts never exceed subtotal.
func (c *Coupon) Discount(subtotal decimal.Decimal) decimal.Decimal {
	switch c.DiscountType {
	case Percentage:
		d := subtotal.Mul(c.DiscountValue).Div(hundred)
		if c.MaxDiscount.IsPositive() && d.GreaterThan(c.MaxDiscount) {
			return c.MaxDiscount
		}
		return d
	case Flat:
		return decimal.Min(c.DiscountValue, subtotal)
	}
	return decimal.Zero
}

// Public strips the usage ledger and allow-list.
func (c Coupon) Public() Coupon {
	c.UsedBy = nil
	c.ApplicableUsers = nil
	return c
}
