package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/example/shop-checkout/internal/domain/cart"
	"github.com/example/shop-checkout/internal/domain/coupon"
	"github.com/example/shop-checkout/internal/domain/order"
	"github.com/example/shop-checkout/internal/domain/product"
)

// MemoryProductRepository keeps products in a map guarded by a mutex, which
// makes the stock guard and write one critical section.
type MemoryProductRepository struct {
	mu       sync.RWMutex
	products map[string]product.Product
}

func NewMemoryProductRepository() *MemoryProductRepository {
	return &MemoryProductRepository{products: make(map[string]product.Product)}
}

func (r *MemoryProductRepository) Get(_ context.Context, id string) (*product.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return nil, product.ErrProductNotFound
	}
	return &p, nil
}

func (r *MemoryProductRepository) List(_ context.Context, filter product.ListFilter) ([]product.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]product.Product, 0, len(r.products))
	for _, p := range r.products {
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryProductRepository) Create(_ context.Context, p *product.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = *p
	return nil
}

func (r *MemoryProductRepository) Update(_ context.Context, p *product.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[p.ID]; !ok {
		return product.ErrProductNotFound
	}
	r.products[p.ID] = *p
	return nil
}

func (r *MemoryProductRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[id]; !ok {
		return product.ErrProductNotFound
	}
	delete(r.products, id)
	return nil
}

func (r *MemoryProductRepository) DecrementStock(_ context.Context, id string, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return product.ErrProductNotFound
	}
	if p.Stock < qty {
		return product.ErrInsufficientStock
	}
	p.Stock -= qty
	p.UpdatedAt = time.Now().UTC()
	r.products[id] = p
	return nil
}

func (r *MemoryProductRepository) IncrementStock(_ context.Context, id string, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return product.ErrProductNotFound
	}
	p.Stock += qty
	p.UpdatedAt = time.Now().UTC()
	r.products[id] = p
	return nil
}

type MemoryCartRepository struct {
	mu    sync.RWMutex
	carts map[string]cart.Cart
}

func NewMemoryCartRepository() *MemoryCartRepository {
	return &MemoryCartRepository{carts: make(map[string]cart.Cart)}
}

func (r *MemoryCartRepository) Get(_ context.Context, userID string) (*cart.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.carts[userID]
	if !ok {
		return &cart.Cart{UserID: userID, Items: []cart.Item{}}, nil
	}
	c.Items = slices.Clone(c.Items)
	return &c, nil
}

func (r *MemoryCartRepository) Save(_ context.Context, c *cart.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *c
	stored.Items = slices.Clone(c.Items)
	r.carts[c.UserID] = stored
	return nil
}

func (r *MemoryCartRepository) Clear(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.carts[userID]; ok {
		c.Items = []cart.Item{}
		c.UpdatedAt = time.Now().UTC()
		r.carts[userID] = c
	}
	return nil
}

type MemoryCouponRepository struct {
	mu      sync.RWMutex
	coupons map[string]coupon.Coupon
}

func NewMemoryCouponRepository() *MemoryCouponRepository {
	return &MemoryCouponRepository{coupons: make(map[string]coupon.Coupon)}
}

func cloneCoupon(c coupon.Coupon) *coupon.Coupon {
	c.ApplicableUsers = slices.Clone(c.ApplicableUsers)
	used := make(map[string]int, len(c.UsedBy))
	for k, v := range c.UsedBy {
		used[k] = v
	}
	c.UsedBy = used
	return &c
}

func (r *MemoryCouponRepository) FindActive(_ context.Context, code string) (*coupon.Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.coupons[coupon.NormalizeCode(code)]
	if !ok || !c.IsActive {
		return nil, coupon.ErrInvalidCoupon
	}
	return cloneCoupon(c), nil
}

func (r *MemoryCouponRepository) ListActive(_ context.Context, now time.Time) ([]coupon.Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]coupon.Coupon, 0)
	for _, c := range r.coupons {
		if c.IsActive && c.InWindow(now) {
			out = append(out, *cloneCoupon(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *MemoryCouponRepository) Create(_ context.Context, c *coupon.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.coupons[c.Code]; exists {
		return coupon.ErrDuplicateCode
	}
	r.coupons[c.Code] = *cloneCoupon(*c)
	return nil
}

func (r *MemoryCouponRepository) Redeem(_ context.Context, code, userID string, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[code]
	if !ok {
		return coupon.ErrInvalidCoupon
	}
	if c.UsedBy[userID] >= limit {
		return coupon.ErrUsageLimitExceeded
	}
	if c.UsedBy == nil {
		c.UsedBy = map[string]int{}
	}
	c.UsedBy[userID]++
	r.coupons[code] = c
	return nil
}

func (r *MemoryCouponRepository) Unredeem(_ context.Context, code, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[code]
	if !ok {
		return coupon.ErrInvalidCoupon
	}
	if c.UsedBy[userID] > 0 {
		c.UsedBy[userID]--
	}
	r.coupons[code] = c
	return nil
}

type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]order.Order
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[string]order.Order)}
}

func (r *MemoryOrderRepository) Create(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.orders {
		if o.IdempotencyKey != "" && existing.UserID == o.UserID && existing.IdempotencyKey == o.IdempotencyKey {
			return order.ErrDuplicateIdempotencyKey
		}
		if existing.TrackingID == o.TrackingID {
			return order.ErrDuplicateTrackingID
		}
	}
	stored := *o
	stored.Lines = slices.Clone(o.Lines)
	r.orders[o.ID] = stored
	return nil
}

func (r *MemoryOrderRepository) Get(_ context.Context, id string) (*order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	o.Lines = slices.Clone(o.Lines)
	return &o, nil
}

func (r *MemoryOrderRepository) FindByIdempotencyKey(_ context.Context, userID, key string) (*order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.orders {
		if o.UserID == userID && o.IdempotencyKey == key {
			o.Lines = slices.Clone(o.Lines)
			return &o, nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (r *MemoryOrderRepository) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]order.Order, 0)
	for _, o := range r.orders {
		if o.UserID == userID {
			o.Lines = slices.Clone(o.Lines)
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryOrderRepository) UpdateStatus(_ context.Context, id string, to order.Status, from []order.Status) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	if len(from) > 0 && !slices.Contains(from, o.Status) {
		return nil, order.ErrStatusChanged
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	r.orders[id] = o
	o.Lines = slices.Clone(o.Lines)
	return &o, nil
}
