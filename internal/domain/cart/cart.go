package cart

import (
	"context"
	"errors"
	"time"

	"github.com/example/shop-checkout/internal/domain/product"
)

var (
	ErrInvalidProduct  = errors.New("productId is required")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrStockLimit      = errors.New("stock limit reached")
	ErrStockExceeded   = errors.New("stock limit exceeded")
	ErrItemNotFound    = errors.New("item not found in cart")
)

type Item struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Cart belongs to exactly one user. Items keep insertion order.
type Cart struct {
	UserID    string    `json:"userId"`
	Items     []Item    `json:"items"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

func (c *Cart) find(productID string) int {
	for i, it := range c.Items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}

// Repository stores carts. Get returns an empty cart, not an error, for a
// user who has none yet.
type Repository interface {
	Get(ctx context.Context, userID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
	Clear(ctx context.Context, userID string) error
}

// ProductLookup resolves live product records.
type ProductLookup interface {
	Get(ctx context.Context, id string) (*product.Product, error)
}

type Service struct {
	repo     Repository
	products ProductLookup
}

func NewService(repo Repository, products ProductLookup) *Service {
	return &Service{repo: repo, products: products}
}

func (s *Service) Get(ctx context.Context, userID string) (*Cart, error) {
	return s.repo.Get(ctx, userID)
}

// Add puts one unit of the product in the cart, never exceeding live stock.
func (s *Service) Add(ctx context.Context, userID, productID string) (*Cart, error) {
	if productID == "" {
		return nil, ErrInvalidProduct
	}
	p, err := s.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	c, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if i := c.find(productID); i >= 0 {
		if c.Items[i].Quantity >= p.Stock {
			return nil, ErrStockLimit
		}
		c.Items[i].Quantity++
	} else {
		if p.Stock < 1 {
			return nil, ErrStockLimit
		}
		c.Items = append(c.Items, Item{ProductID: productID, Quantity: 1})
	}
	return s.save(ctx, c)
}

// UpdateQuantity sets an existing line to qty, which must lie in [1, stock].
func (s *Service) UpdateQuantity(ctx context.Context, userID, productID string, qty int) (*Cart, error) {
	if productID == "" {
		return nil, ErrInvalidProduct
	}
	if qty < 1 {
		return nil, ErrInvalidQuantity
	}
	p, err := s.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if qty > p.Stock {
		return nil, ErrStockExceeded
	}
	c, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	i := c.find(productID)
	if i < 0 {
		return nil, ErrItemNotFound
	}
	c.Items[i].Quantity = qty
	return s.save(ctx, c)
}

func (s *Service) Remove(ctx context.Context, userID, productID string) (*Cart, error) {
	c, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	i := c.find(productID)
	if i < 0 {
		return nil, ErrItemNotFound
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	return s.save(ctx, c)
}

func (s *Service) Clear(ctx context.Context, userID string) error {
	return s.repo.Clear(ctx, userID)
}

func (s *Service) save(ctx context.Context, c *Cart) (*Cart, error) {
	c.UpdatedAt = time.Now().UTC()
	if err := s.repo.Save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
