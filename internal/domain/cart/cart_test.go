package cart

import (
	"context"
	"testing"

	"github.com/example/shop-checkout/internal/domain/product"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	carts map[string]Cart
}

func (r *fakeRepo) Get(_ context.Context, userID string) (*Cart, error) {
	c, ok := r.carts[userID]
	if !ok {
		return &Cart{UserID: userID, Items: []Item{}}, nil
	}
	c.Items = append([]Item(nil), c.Items...)
	return &c, nil
}

func (r *fakeRepo) Save(_ context.Context, c *Cart) error {
	r.carts[c.UserID] = *c
	return nil
}

func (r *fakeRepo) Clear(_ context.Context, userID string) error {
	r.carts[userID] = Cart{UserID: userID, Items: []Item{}}
	return nil
}

type fakeProducts map[string]int

func (f fakeProducts) Get(_ context.Context, id string) (*product.Product, error) {
	stock, ok := f[id]
	if !ok {
		return nil, product.ErrProductNotFound
	}
	return &product.Product{ID: id, Name: id, Stock: stock}, nil
}

func newTestCartService(stock fakeProducts) (*Service, *fakeRepo) {
	repo := &fakeRepo{carts: map[string]Cart{}}
	return NewService(repo, stock), repo
}

// ============================================
// Add Tests
// ============================================

func TestService_Add_NewAndExisting(t *testing.T) {
	svc, repo := newTestCartService(fakeProducts{"a": 2, "b": 9})
	ctx := context.Background()

	_, err := svc.Add(ctx, "u1", "a")
	require.NoError(t, err)
	_, err = svc.Add(ctx, "u1", "b")
	require.NoError(t, err)
	c, err := svc.Add(ctx, "u1", "a")
	require.NoError(t, err)

	assert.Equal(t, []Item{{ProductID: "a", Quantity: 2}, {ProductID: "b", Quantity: 1}}, c.Items)
	assert.Equal(t, c.Items, repo.carts["u1"].Items)
	assert.False(t, c.UpdatedAt.IsZero())
}

func TestService_Add_StockLimit(t *testing.T) {
	svc, _ := newTestCartService(fakeProducts{"a": 1, "none": 0})
	ctx := context.Background()

	_, err := svc.Add(ctx, "u1", "a")
	require.NoError(t, err)
	_, err = svc.Add(ctx, "u1", "a")
	assert.ErrorIs(t, err, ErrStockLimit)

	_, err = svc.Add(ctx, "u1", "none")
	assert.ErrorIs(t, err, ErrStockLimit)
}

func TestService_Add_Errors(t *testing.T) {
	svc, _ := newTestCartService(fakeProducts{})

	_, err := svc.Add(context.Background(), "u1", "")
	assert.ErrorIs(t, err, ErrInvalidProduct)

	_, err = svc.Add(context.Background(), "u1", "ghost")
	assert.ErrorIs(t, err, product.ErrProductNotFound)
}

// ============================================
// UpdateQuantity Tests
// ============================================

func TestService_UpdateQuantity(t *testing.T) {
	svc, _ := newTestCartService(fakeProducts{"a": 5})
	ctx := context.Background()
	_, err := svc.Add(ctx, "u1", "a")
	require.NoError(t, err)

	c, err := svc.UpdateQuantity(ctx, "u1", "a", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, c.Items[0].Quantity)

	_, err = svc.UpdateQuantity(ctx, "u1", "a", 6)
	assert.ErrorIs(t, err, ErrStockExceeded)

	_, err = svc.UpdateQuantity(ctx, "u1", "a", 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.UpdateQuantity(ctx, "u2", "a", 1)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

// ============================================
// Remove / Clear Tests
// ============================================

func TestService_Remove(t *testing.T) {
	svc, _ := newTestCartService(fakeProducts{"a": 5, "b": 5})
	ctx := context.Background()
	_, _ = svc.Add(ctx, "u1", "a")
	_, _ = svc.Add(ctx, "u1", "b")

	c, err := svc.Remove(ctx, "u1", "a")
	require.NoError(t, err)
	assert.Equal(t, []Item{{ProductID: "b", Quantity: 1}}, c.Items)

	_, err = svc.Remove(ctx, "u1", "a")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestService_Clear(t *testing.T) {
	svc, _ := newTestCartService(fakeProducts{"a": 5})
	ctx := context.Background()
	_, _ = svc.Add(ctx, "u1", "a")

	require.NoError(t, svc.Clear(ctx, "u1"))

	c, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func TestCart_IsEmpty(t *testing.T) {
	var nilCart *Cart
	assert.True(t, nilCart.IsEmpty())
	assert.True(t, (&Cart{}).IsEmpty())
	assert.False(t, (&Cart{Items: []Item{{ProductID: "a", Quantity: 1}}}).IsEmpty())
}
