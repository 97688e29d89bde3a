package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/shop-checkout/internal/domain/cart"
	"github.com/example/shop-checkout/internal/domain/coupon"
	"github.com/example/shop-checkout/internal/domain/order"
	"github.com/example/shop-checkout/internal/domain/product"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The functions below are shared by the in-memory tests and the
// integration tests so every backend is held to the same behaviour.

func seedProduct(t *testing.T, repo product.Repository, stock int) *product.Product {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	p := &product.Product{
		ID:        uuid.New().String(),
		Name:      "Desk Lamp",
		Category:  "home",
		Price:     decimal.RequireFromString("249.50"),
		Stock:     stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, repo.Create(context.Background(), p))
	return p
}

func testProductRepository(t *testing.T, repo product.Repository) {
	ctx := context.Background()

	t.Run("get round trips price", func(t *testing.T) {
		p := seedProduct(t, repo, 5)
		got, err := repo.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.Name, got.Name)
		assert.True(t, p.Price.Equal(got.Price))
		assert.Equal(t, 5, got.Stock)
	})

	t.Run("get unknown", func(t *testing.T) {
		_, err := repo.Get(ctx, uuid.New().String())
		assert.ErrorIs(t, err, product.ErrProductNotFound)
	})

	t.Run("decrement guards stock", func(t *testing.T) {
		p := seedProduct(t, repo, 3)
		require.NoError(t, repo.DecrementStock(ctx, p.ID, 2))
		assert.ErrorIs(t, repo.DecrementStock(ctx, p.ID, 2), product.ErrInsufficientStock)

		got, err := repo.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Stock)
	})

	t.Run("decrement unknown product", func(t *testing.T) {
		assert.ErrorIs(t, repo.DecrementStock(ctx, uuid.New().String(), 1), product.ErrProductNotFound)
	})

	t.Run("increment restores", func(t *testing.T) {
		p := seedProduct(t, repo, 0)
		require.NoError(t, repo.IncrementStock(ctx, p.ID, 4))
		got, err := repo.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, got.Stock)
	})

	t.Run("concurrent decrements never oversell", func(t *testing.T) {
		p := seedProduct(t, repo, 5)
		var wg sync.WaitGroup
		var ok atomic.Int32
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if repo.DecrementStock(ctx, p.ID, 1) == nil {
					ok.Add(1)
				}
			}()
		}
		wg.Wait()

		got, err := repo.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, int32(5), ok.Load())
		assert.Equal(t, 0, got.Stock)
	})

	t.Run("update and delete", func(t *testing.T) {
		p := seedProduct(t, repo, 1)
		p.Name = "Floor Lamp"
		require.NoError(t, repo.Update(ctx, p))
		got, err := repo.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "Floor Lamp", got.Name)

		require.NoError(t, repo.Delete(ctx, p.ID))
		assert.ErrorIs(t, repo.Delete(ctx, p.ID), product.ErrProductNotFound)
	})

	t.Run("list filters by category newest first", func(t *testing.T) {
		category := "cat-" + uuid.New().String()[:8]
		base := time.Now().UTC().Truncate(time.Millisecond)
		for i, name := range []string{"older", "newer"} {
			require.NoError(t, repo.Create(ctx, &product.Product{
				ID:        uuid.New().String(),
				Name:      name,
				Category:  category,
				Price:     decimal.NewFromInt(10),
				Stock:     1,
				CreatedAt: base.Add(time.Duration(i) * time.Second),
				UpdatedAt: base,
			}))
		}

		list, err := repo.List(ctx, product.ListFilter{Category: category})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "newer", list[0].Name)
		assert.Equal(t, "older", list[1].Name)
	})
}

func testCartRepository(t *testing.T, repo cart.Repository) {
	ctx := context.Background()

	t.Run("missing cart is empty", func(t *testing.T) {
		c, err := repo.Get(ctx, uuid.New().String())
		require.NoError(t, err)
		assert.True(t, c.IsEmpty())
	})

	t.Run("save keeps item order", func(t *testing.T) {
		userID := uuid.New().String()
		require.NoError(t, repo.Save(ctx, &cart.Cart{
			UserID:    userID,
			Items:     []cart.Item{{ProductID: "b", Quantity: 2}, {ProductID: "a", Quantity: 1}},
			UpdatedAt: time.Now().UTC(),
		}))

		c, err := repo.Get(ctx, userID)
		require.NoError(t, err)
		require.Len(t, c.Items, 2)
		assert.Equal(t, "b", c.Items[0].ProductID)
		assert.Equal(t, 2, c.Items[0].Quantity)
		assert.Equal(t, "a", c.Items[1].ProductID)
	})

	t.Run("clear empties", func(t *testing.T) {
		userID := uuid.New().String()
		require.NoError(t, repo.Save(ctx, &cart.Cart{
			UserID:    userID,
			Items:     []cart.Item{{ProductID: "a", Quantity: 1}},
			UpdatedAt: time.Now().UTC(),
		}))
		require.NoError(t, repo.Clear(ctx, userID))

		c, err := repo.Get(ctx, userID)
		require.NoError(t, err)
		assert.True(t, c.IsEmpty())
	})
}

func seedCoupon(t *testing.T, repo coupon.Repository, limit int) *coupon.Coupon {
	t.Helper()
	c := &coupon.Coupon{
		Code:              "SAVE" + uuid.New().String()[:6],
		DiscountType:      coupon.Percentage,
		DiscountValue:     decimal.NewFromInt(10),
		MinOrderAmount:    decimal.Zero,
		MaxDiscount:       decimal.NewFromInt(100),
		UsageLimitPerUser: limit,
		IsActive:          true,
		UsedBy:            map[string]int{},
		CreatedAt:         time.Now().UTC(),
	}
	c.Code = coupon.NormalizeCode(c.Code)
	require.NoError(t, repo.Create(context.Background(), c))
	return c
}

func testCouponRepository(t *testing.T, repo coupon.Repository) {
	ctx := context.Background()

	t.Run("find is case insensitive", func(t *testing.T) {
		c := seedCoupon(t, repo, 1)
		got, err := repo.FindActive(ctx, " "+c.Code+" ")
		require.NoError(t, err)
		assert.Equal(t, c.Code, got.Code)
		assert.True(t, got.DiscountValue.Equal(c.DiscountValue))
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := repo.FindActive(ctx, "NOPE"+uuid.New().String()[:4])
		assert.ErrorIs(t, err, coupon.ErrInvalidCoupon)
	})

	t.Run("duplicate code", func(t *testing.T) {
		c := seedCoupon(t, repo, 1)
		dup := *c
		assert.ErrorIs(t, repo.Create(ctx, &dup), coupon.ErrDuplicateCode)
	})

	t.Run("redeem honours limit", func(t *testing.T) {
		c := seedCoupon(t, repo, 2)
		require.NoError(t, repo.Redeem(ctx, c.Code, "u1", 2))
		require.NoError(t, repo.Redeem(ctx, c.Code, "u1", 2))
		assert.ErrorIs(t, repo.Redeem(ctx, c.Code, "u1", 2), coupon.ErrUsageLimitExceeded)
		require.NoError(t, repo.Redeem(ctx, c.Code, "u2", 2))

		got, err := repo.FindActive(ctx, c.Code)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Redemptions("u1"))
		assert.Equal(t, 1, got.Redemptions("u2"))
	})

	t.Run("unredeem frees a slot", func(t *testing.T) {
		c := seedCoupon(t, repo, 1)
		require.NoError(t, repo.Redeem(ctx, c.Code, "u1", 1))
		require.NoError(t, repo.Unredeem(ctx, c.Code, "u1"))
		require.NoError(t, repo.Redeem(ctx, c.Code, "u1", 1))
	})

	t.Run("concurrent redeem admits limit", func(t *testing.T) {
		c := seedCoupon(t, repo, 1)
		var wg sync.WaitGroup
		var ok atomic.Int32
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if repo.Redeem(ctx, c.Code, "racer", 1) == nil {
					ok.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), ok.Load())
	})

	t.Run("list active respects window", func(t *testing.T) {
		now := time.Now().UTC()
		past := now.Add(-48 * time.Hour)
		yesterday := now.Add(-24 * time.Hour)
		expired := &coupon.Coupon{
			Code:              "OLD" + uuid.New().String()[:6],
			DiscountType:      coupon.Flat,
			DiscountValue:     decimal.NewFromInt(5),
			UsageLimitPerUser: 1,
			ValidFrom:         &past,
			ValidTill:         &yesterday,
			IsActive:          true,
			UsedBy:            map[string]int{},
			CreatedAt:         now,
		}
		expired.Code = coupon.NormalizeCode(expired.Code)
		require.NoError(t, repo.Create(ctx, expired))
		live := seedCoupon(t, repo, 1)

		list, err := repo.ListActive(ctx, now)
		require.NoError(t, err)
		codes := make([]string, 0, len(list))
		for _, c := range list {
			codes = append(codes, c.Code)
		}
		assert.Contains(t, codes, live.Code)
		assert.NotContains(t, codes, expired.Code)
	})
}

func newTestOrder(userID, key, tracking string) *order.Order {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &order.Order{
		ID:     uuid.New().String(),
		UserID: userID,
		Lines: []order.Line{
			{ProductID: "p1", Name: "Desk Lamp", Quantity: 2, UnitPrice: decimal.RequireFromString("249.50")},
		},
		Subtotal:       decimal.RequireFromString("499.00"),
		Discount:       decimal.Zero,
		DeliveryCharge: decimal.NewFromInt(50),
		TotalAmount:    decimal.RequireFromString("549.00"),
		PaymentMethod:  "COD",
		Address:        "1 Main St",
		Status:         order.StatusProcessing,
		TrackingID:     tracking,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func testOrderRepository(t *testing.T, repo order.Repository) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		o := newTestOrder(uuid.New().String(), "", "TRK"+uuid.New().String())
		require.NoError(t, repo.Create(ctx, o))

		got, err := repo.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, o.TrackingID, got.TrackingID)
		require.Len(t, got.Lines, 1)
		assert.Equal(t, "Desk Lamp", got.Lines[0].Name)
		assert.True(t, got.TotalAmount.Equal(o.TotalAmount))
		assert.Equal(t, order.StatusProcessing, got.Status)
	})

	t.Run("duplicate tracking id", func(t *testing.T) {
		tracking := "TRK" + uuid.New().String()
		require.NoError(t, repo.Create(ctx, newTestOrder(uuid.New().String(), "", tracking)))
		err := repo.Create(ctx, newTestOrder(uuid.New().String(), "", tracking))
		assert.ErrorIs(t, err, order.ErrDuplicateTrackingID)
	})

	t.Run("idempotency key is per user", func(t *testing.T) {
		userID := uuid.New().String()
		first := newTestOrder(userID, "key-1", "TRK"+uuid.New().String())
		require.NoError(t, repo.Create(ctx, first))

		err := repo.Create(ctx, newTestOrder(userID, "key-1", "TRK"+uuid.New().String()))
		assert.ErrorIs(t, err, order.ErrDuplicateIdempotencyKey)
		require.NoError(t, repo.Create(ctx, newTestOrder(uuid.New().String(), "key-1", "TRK"+uuid.New().String())))

		found, err := repo.FindByIdempotencyKey(ctx, userID, "key-1")
		require.NoError(t, err)
		assert.Equal(t, first.ID, found.ID)

		_, err = repo.FindByIdempotencyKey(ctx, userID, "key-2")
		assert.ErrorIs(t, err, order.ErrOrderNotFound)
	})

	t.Run("list newest first", func(t *testing.T) {
		userID := uuid.New().String()
		older := newTestOrder(userID, "", "TRK"+uuid.New().String())
		older.CreatedAt = older.CreatedAt.Add(-time.Hour)
		newer := newTestOrder(userID, "", "TRK"+uuid.New().String())
		require.NoError(t, repo.Create(ctx, older))
		require.NoError(t, repo.Create(ctx, newer))

		list, err := repo.ListByUser(ctx, userID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)
		assert.Equal(t, older.ID, list[1].ID)
	})

	t.Run("conditional status update", func(t *testing.T) {
		o := newTestOrder(uuid.New().String(), "", "TRK"+uuid.New().String())
		require.NoError(t, repo.Create(ctx, o))

		updated, err := repo.UpdateStatus(ctx, o.ID, order.StatusShipped, []order.Status{order.StatusProcessing})
		require.NoError(t, err)
		assert.Equal(t, order.StatusShipped, updated.Status)

		_, err = repo.UpdateStatus(ctx, o.ID, order.StatusCancelled, []order.Status{order.StatusProcessing, order.StatusConfirmed})
		assert.ErrorIs(t, err, order.ErrStatusChanged)

		_, err = repo.UpdateStatus(ctx, uuid.New().String(), order.StatusShipped, nil)
		assert.ErrorIs(t, err, order.ErrOrderNotFound)
	})
}
