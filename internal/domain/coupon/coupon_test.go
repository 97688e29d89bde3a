package coupon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func at(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

// fakeRepo is a map-backed Repository.
type fakeRepo struct {
	mu      sync.Mutex
	coupons map[string]*Coupon
}

func newFakeRepo(cs ...Coupon) *fakeRepo {
	r := &fakeRepo{coupons: map[string]*Coupon{}}
	for i := range cs {
		c := cs[i]
		if c.UsedBy == nil {
			c.UsedBy = map[string]int{}
		}
		r.coupons[c.Code] = &c
	}
	return r
}

func (r *fakeRepo) FindActive(_ context.Context, code string) (*Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[NormalizeCode(code)]
	if !ok || !c.IsActive {
		return nil, ErrInvalidCoupon
	}
	cp := *c
	return &cp, nil
}

func (r *fakeRepo) ListActive(_ context.Context, now time.Time) ([]Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Coupon
	for _, c := range r.coupons {
		if c.IsActive && c.InWindow(now) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeRepo) Create(_ context.Context, c *Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.coupons[c.Code]; ok {
		return ErrDuplicateCode
	}
	cp := *c
	r.coupons[c.Code] = &cp
	return nil
}

func (r *fakeRepo) Redeem(_ context.Context, code, userID string, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.coupons[code]
	if c.UsedBy[userID] >= limit {
		return ErrUsageLimitExceeded
	}
	c.UsedBy[userID]++
	return nil
}

func (r *fakeRepo) Unredeem(_ context.Context, code, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.coupons[code]; c.UsedBy[userID] > 0 {
		c.UsedBy[userID]--
	}
	return nil
}

var now = *at("2026-03-10T12:00:00Z")

// ============================================
// Discount Tests
// ============================================

func TestCoupon_Discount(t *testing.T) {
	tests := []struct {
		name     string
		coupon   Coupon
		subtotal string
		want     string
	}{
		{"percentage", Coupon{DiscountType: Percentage, DiscountValue: d("10")}, "200", "20"},
		{"percentage fractional", Coupon{DiscountType: Percentage, DiscountValue: d("15")}, "99.99", "14.9985"},
		{"percentage capped", Coupon{DiscountType: Percentage, DiscountValue: d("50"), MaxDiscount: d("30")}, "200", "30"},
		{"zero cap means uncapped", Coupon{DiscountType: Percentage, DiscountValue: d("50")}, "200", "100"},
		{"flat", Coupon{DiscountType: Flat, DiscountValue: d("30")}, "200", "30"},
		{"flat ignores max discount", Coupon{DiscountType: Flat, DiscountValue: d("30"), MaxDiscount: d("10")}, "200", "30"},
		{"flat above subtotal discounts whole subtotal", Coupon{DiscountType: Flat, DiscountValue: d("300")}, "200", "200"},
		{"flat equal to subtotal", Coupon{DiscountType: Flat, DiscountValue: d("200")}, "200", "200"},
		{"flat on zero subtotal", Coupon{DiscountType: Flat, DiscountValue: d("30")}, "0", "0"},
		{"unknown type", Coupon{DiscountType: "BOGO", DiscountValue: d("30")}, "200", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.coupon.Discount(d(tt.subtotal))
			assert.True(t, d(tt.want).Equal(got), "got %s", got)
		})
	}
}

// ============================================
// Check Tests
// ============================================

func TestCoupon_Check_Order(t *testing.T) {
	base := Coupon{
		Code:              "SAVE10",
		DiscountType:      Percentage,
		DiscountValue:     d("10"),
		MinOrderAmount:    d("100"),
		UsageLimitPerUser: 1,
		IsActive:          true,
		UsedBy:            map[string]int{},
	}

	tests := []struct {
		name     string
		mutate   func(*Coupon)
		subtotal string
		want     error
	}{
		{"not started beats everything", func(c *Coupon) {
			c.ValidFrom = at("2026-04-01T00:00:00Z")
			c.ApplicableUsers = []string{"someone-else"}
			c.UsedBy["u1"] = 5
		}, "1", ErrNotStarted},
		{"expired before minimum", func(c *Coupon) { c.ValidTill = at("2026-03-01T00:00:00Z") }, "1", ErrExpired},
		{"minimum before applicability", func(c *Coupon) { c.ApplicableUsers = []string{"someone-else"} }, "50", ErrMinimumNotMet},
		{"applicability before usage", func(c *Coupon) {
			c.ApplicableUsers = []string{"someone-else"}
			c.UsedBy["u1"] = 1
		}, "150", ErrNotApplicable},
		{"usage limit", func(c *Coupon) { c.UsedBy["u1"] = 1 }, "150", ErrUsageLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			c.UsedBy = map[string]int{}
			tt.mutate(&c)

			_, err := c.Check("u1", d(tt.subtotal), now)

			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCoupon_Check_MinimumMessage(t *testing.T) {
	c := Coupon{DiscountType: Flat, DiscountValue: d("10"), MinOrderAmount: d("499"), UsageLimitPerUser: 1}

	_, err := c.Check("u1", d("100"), now)

	assert.EqualError(t, err, "minimum order not met: requires 499.00")
}

func TestCoupon_Check_WindowBoundsInclusive(t *testing.T) {
	c := Coupon{
		DiscountType:      Flat,
		DiscountValue:     d("10"),
		UsageLimitPerUser: 1,
		ValidFrom:         &now,
		ValidTill:         &now,
	}

	discount, err := c.Check("u1", d("100"), now)

	require.NoError(t, err)
	assert.True(t, d("10").Equal(discount))
}

func TestCoupon_Check_AllowListMember(t *testing.T) {
	c := Coupon{DiscountType: Flat, DiscountValue: d("10"), UsageLimitPerUser: 2, ApplicableUsers: []string{"u1"}, UsedBy: map[string]int{"u1": 1}}

	_, err := c.Check("u1", d("100"), now)

	assert.NoError(t, err)
}

func TestCoupon_Public(t *testing.T) {
	c := Coupon{Code: "VIP", ApplicableUsers: []string{"u1"}, UsedBy: map[string]int{"u1": 1}}

	pub := c.Public()

	assert.Nil(t, pub.UsedBy)
	assert.Nil(t, pub.ApplicableUsers)
	assert.Equal(t, "VIP", pub.Code)
	assert.Len(t, c.ApplicableUsers, 1, "original untouched")
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SAVE10", NormalizeCode("  save10 "))
	assert.Equal(t, "", NormalizeCode("   "))
}

// ============================================
// Service Tests
// ============================================

func newTestCouponService(cs ...Coupon) (*Service, *fakeRepo) {
	repo := newFakeRepo(cs...)
	return NewService(repo).WithClock(func() time.Time { return now }), repo
}

func TestService_Evaluate(t *testing.T) {
	svc, _ := newTestCouponService(Coupon{Code: "SAVE10", DiscountType: Percentage, DiscountValue: d("10"), UsageLimitPerUser: 1, IsActive: true})

	eval, err := svc.Evaluate(context.Background(), " save10", "u1", d("200"))

	require.NoError(t, err)
	assert.Equal(t, "SAVE10", eval.Coupon.Code)
	assert.True(t, d("20").Equal(eval.Discount))
}

func TestService_Evaluate_Errors(t *testing.T) {
	svc, _ := newTestCouponService(Coupon{Code: "OFF", DiscountType: Flat, DiscountValue: d("10"), UsageLimitPerUser: 1, IsActive: false})
	ctx := context.Background()

	_, err := svc.Evaluate(ctx, " ", "u1", d("100"))
	assert.ErrorIs(t, err, ErrCouponRequired)

	_, err = svc.Evaluate(ctx, "SAVE10", "u1", d("-1"))
	assert.ErrorIs(t, err, ErrInvalidSubtotal)

	_, err = svc.Evaluate(ctx, "NOPE", "u1", d("100"))
	assert.ErrorIs(t, err, ErrInvalidCoupon)

	_, err = svc.Evaluate(ctx, "OFF", "u1", d("100"))
	assert.ErrorIs(t, err, ErrInvalidCoupon, "inactive coupons are invisible")
}

func TestService_RedeemAndUnredeem(t *testing.T) {
	svc, repo := newTestCouponService(Coupon{Code: "ONCE", DiscountType: Flat, DiscountValue: d("10"), UsageLimitPerUser: 1, IsActive: true})
	ctx := context.Background()
	eval, err := svc.Evaluate(ctx, "ONCE", "u1", d("100"))
	require.NoError(t, err)

	require.NoError(t, svc.Redeem(ctx, eval.Coupon, "u1"))
	assert.ErrorIs(t, svc.Redeem(ctx, eval.Coupon, "u1"), ErrUsageLimitExceeded)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, svc.Unredeem(cancelled, "ONCE", "u1"))
	assert.Equal(t, 0, repo.coupons["ONCE"].UsedBy["u1"])
}

func TestService_Create(t *testing.T) {
	svc, _ := newTestCouponService()
	limit := 3
	inactive := false

	c, err := svc.Create(context.Background(), Draft{
		Code:              "festive",
		DiscountType:      Percentage,
		DiscountValue:     d("25"),
		MaxDiscount:       d("200"),
		UsageLimitPerUser: &limit,
		IsActive:          &inactive,
	})

	require.NoError(t, err)
	assert.Equal(t, "FESTIVE", c.Code)
	assert.Equal(t, 3, c.UsageLimitPerUser)
	assert.False(t, c.IsActive)
	assert.Equal(t, now, c.CreatedAt)
}

func TestService_Create_Validation(t *testing.T) {
	zero := 0
	tests := []struct {
		name  string
		draft Draft
		want  error
	}{
		{"missing code", Draft{DiscountType: Flat}, ErrCouponRequired},
		{"bad type", Draft{Code: "X", DiscountType: "BOGO"}, ErrInvalidType},
		{"negative value", Draft{Code: "X", DiscountType: Flat, DiscountValue: d("-5")}, ErrInvalidValue},
		{"negative minimum", Draft{Code: "X", DiscountType: Flat, MinOrderAmount: d("-1")}, ErrInvalidValue},
		{"percentage over 100", Draft{Code: "X", DiscountType: Percentage, DiscountValue: d("101")}, ErrInvalidPercentage},
		{"zero usage limit", Draft{Code: "X", DiscountType: Flat, UsageLimitPerUser: &zero}, ErrInvalidUsageLimit},
		{"inverted window", Draft{Code: "X", DiscountType: Flat, ValidFrom: at("2026-05-01T00:00:00Z"), ValidTill: at("2026-04-01T00:00:00Z")}, ErrInvalidWindow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestCouponService()
			_, err := svc.Create(context.Background(), tt.draft)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestService_Create_Duplicate(t *testing.T) {
	svc, _ := newTestCouponService(Coupon{Code: "DUP", IsActive: true})

	_, err := svc.Create(context.Background(), Draft{Code: "dup", DiscountType: Flat})

	assert.ErrorIs(t, err, ErrDuplicateCode)
}

func TestService_ListActive(t *testing.T) {
	svc, _ := newTestCouponService(
		Coupon{Code: "LIVE", IsActive: true},
		Coupon{Code: "FUTURE", IsActive: true, ValidFrom: at("2026-06-01T00:00:00Z")},
		Coupon{Code: "OFF", IsActive: false},
	)

	list, err := svc.ListActive(context.Background())

	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "LIVE", list[0].Code)
}
