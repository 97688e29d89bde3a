package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Repository persists coupons. FindActive matches the normalized code among
// active coupons. Redeem must increment the user's count only while it is
// below limit, in one atomic write, and return ErrUsageLimitExceeded otherwise.
type Repository interface {
	FindActive(ctx context.Context, code string) (*Coupon, error)
	ListActive(ctx context.Context, now time.Time) ([]Coupon, error)
	Create(ctx context.Context, c *Coupon) error
	Redeem(ctx context.Context, code, userID string, limit int) error
	Unredeem(ctx context.Context, code, userID string) error
}

// Draft is the admin input for a new coupon.
type Draft struct {
	Code              string          `json:"code"`
	DiscountType      DiscountType    `json:"discountType"`
	DiscountValue     decimal.Decimal `json:"discountValue"`
	MinOrderAmount    decimal.Decimal `json:"minOrderAmount"`
	MaxDiscount       decimal.Decimal `json:"maxDiscount"`
	UsageLimitPerUser *int            `json:"usageLimitPerUser"`
	ValidFrom         *time.Time      `json:"validFrom"`
	ValidTill         *time.Time      `json:"validTill"`
	IsActive          *bool           `json:"isActive"`
	ApplicableUsers   []string        `json:"applicableUsers"`
}

// Evaluation is an accepted coupon and the discount it grants.
type Evaluation struct {
	Coupon   *Coupon
	Discount decimal.Decimal
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Evaluate resolves code and checks it for userID against subtotal.
func (s *Service) Evaluate(ctx context.Context, code, userID string, subtotal decimal.Decimal) (*Evaluation, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrCouponRequired
	}
	if subtotal.IsNegative() {
		return nil, ErrInvalidSubtotal
	}
	c, err := s.repo.FindActive(ctx, code)
	if err != nil {
		return nil, err
	}
	discount, err := c.Check(userID, subtotal, s.now())
	if err != nil {
		return nil, err
	}
	return &Evaluation{Coupon: c, Discount: discount}, nil
}

// Redeem records one use of the coupon by userID.
func (s *Service) Redeem(ctx context.Context, c *Coupon, userID string) error {
	return s.repo.Redeem(ctx, c.Code, userID, c.UsageLimitPerUser)
}

// Unredeem reverses Redeem during compensation.
func (s *Service) Unredeem(ctx context.Context, code, userID string) error {
	return s.repo.Unredeem(context.WithoutCancel(ctx), code, userID)
}

// ListActive returns active coupons whose validity window contains now.
func (s *Service) ListActive(ctx context.Context) ([]Coupon, error) {
	return s.repo.ListActive(ctx, s.now())
}

func (s *Service) Create(ctx context.Context, d Draft) (*Coupon, error) {
	c := &Coupon{
		Code:              NormalizeCode(d.Code),
		DiscountType:      d.DiscountType,
		DiscountValue:     d.DiscountValue,
		MinOrderAmount:    d.MinOrderAmount,
		MaxDiscount:       d.MaxDiscount,
		UsageLimitPerUser: 1,
		ValidFrom:         d.ValidFrom,
		ValidTill:         d.ValidTill,
		IsActive:          true,
		ApplicableUsers:   d.ApplicableUsers,
		UsedBy:            map[string]int{},
		CreatedAt:         s.now().UTC(),
	}
	if d.UsageLimitPerUser != nil {
		c.UsageLimitPerUser = *d.UsageLimitPerUser
	}
	if d.IsActive != nil {
		c.IsActive = *d.IsActive
	}

	switch {
	case c.Code == "":
		return nil, ErrCouponRequired
	case c.DiscountType != Percentage && c.DiscountType != Flat:
		return nil, ErrInvalidType
	case c.DiscountValue.IsNegative() || c.MinOrderAmount.IsNegative() || c.MaxDiscount.IsNegative():
		return nil, ErrInvalidValue
	case c.DiscountType == Percentage && c.DiscountValue.GreaterThan(hundred):
		return nil, ErrInvalidPercentage
	case c.UsageLimitPerUser < 1:
		return nil, ErrInvalidUsageLimit
	case c.ValidFrom != nil && c.ValidTill != nil && c.ValidFrom.After(*c.ValidTill):
		return nil, ErrInvalidWindow
	}

	if err := s.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return nil, err
		}
		return nil, fmt.Errorf("create coupon: %w", err)
	}
	return c, nil
}
