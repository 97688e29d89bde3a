package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/example/shop-checkout/internal/domain/cart"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// CartRepository is a read-through cache in front of a cart.Repository.
// Writes go to the backing repository first and then drop the cached entry.
// Cache failures are logged and never fail the call.
//
// Writes bump a counter before invalidating. A fill that sees the counter
// move while it ran does not keep what it read.
type CartRepository struct {
	next   cart.Repository
	cache  CartCache
	sfg    singleflight.Group
	writes atomic.Uint64
	logger zerolog.Logger
}

func NewCartRepository(next cart.Repository, cache CartCache, logger zerolog.Logger) *CartRepository {
	return &CartRepository{next: next, cache: cache, logger: logger}
}

func (r *CartRepository) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	v, err, _ := r.sfg.Do(userID, func() (any, error) {
		c, err := r.cache.Get(ctx, userID)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			r.logger.Warn().Err(err).Str("user_id", userID).Msg("cart cache get failed")
		}

		seen := r.writes.Load()
		c, err = r.next.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		if r.writes.Load() != seen {
			return c, nil
		}
		if err := r.cache.Set(ctx, c); err != nil {
			r.logger.Warn().Err(err).Str("user_id", userID).Msg("cart cache set failed")
			return c, nil
		}
		if r.writes.Load() != seen {
			r.invalidate(userID)
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}

	// Callers mutate the cart they get back; shared singleflight results
	// must not alias.
	shared := v.(*cart.Cart)
	out := *shared
	out.Items = append([]cart.Item(nil), shared.Items...)
	return &out, nil
}

func (r *CartRepository) Save(ctx context.Context, c *cart.Cart) error {
	if err := r.next.Save(ctx, c); err != nil {
		return err
	}
	r.writes.Add(1)
	r.invalidate(c.UserID)
	return nil
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	if err := r.next.Clear(ctx, userID); err != nil {
		return err
	}
	r.writes.Add(1)
	r.invalidate(userID)
	return nil
}

func (r *CartRepository) invalidate(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.cache.Delete(ctx, userID); err != nil {
		r.logger.Warn().Err(err).Str("user_id", userID).Msg("cart cache invalidate failed")
	}
}
