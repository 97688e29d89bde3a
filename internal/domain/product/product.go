package product

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/shop-checkout/internal/infrastructure/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const AggregateType = "Product"

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInvalidPrice      = errors.New("price must not be negative")
	ErrInvalidName       = errors.New("name is required")
	ErrInvalidCategory   = errors.New("category is required")
	ErrInvalidStock      = errors.New("stock must not be negative")
	ErrInsufficientStock = errors.New("insufficient stock")
)

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Image       string          `json:"image,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ListFilter narrows List. Zero value lists everything.
type ListFilter struct {
	Category string
}

// Repository persists products. DecrementStock must apply the stock >= qty
// check and the write as one atomic operation and report
// ErrInsufficientStock when the guard fails.
type Repository interface {
	Get(ctx context.Context, id string) (*Product, error)
	List(ctx context.Context, filter ListFilter) ([]Product, error)
	Create(ctx context.Context, p *Product) error
	Update(ctx context.Context, p *Product) error
	Delete(ctx context.Context, id string) error
	DecrementStock(ctx context.Context, id string, qty int) error
	IncrementStock(ctx context.Context, id string, qty int) error
}

// Draft carries the fields for a new product.
type Draft struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Image       string          `json:"image"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

// Patch updates only the non-nil fields.
type Patch struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Category    *string          `json:"category"`
	Image       *string          `json:"image"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock"`
}

type Service struct {
	repo       Repository
	eventStore store.EventStoreInterface
}

func NewService(repo Repository, es store.EventStoreInterface) *Service {
	return &Service{repo: repo, eventStore: es}
}

func validate(p *Product) error {
	switch {
	case p.Name == "":
		return ErrInvalidName
	case p.Category == "":
		return ErrInvalidCategory
	case p.Price.IsNegative():
		return ErrInvalidPrice
	case p.Stock < 0:
		return ErrInvalidStock
	}
	return nil
}

func (s *Service) Create(ctx context.Context, d Draft) (*Product, error) {
	now := time.Now().UTC()
	p := &Product{
		ID:          uuid.New().String(),
		Name:        strings.TrimSpace(d.Name),
		Description: d.Description,
		Category:    strings.TrimSpace(d.Category),
		Image:       d.Image,
		Price:       d.Price,
		Stock:       d.Stock,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := validate(p); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	if err := s.record(ctx, p.ID, EventProductCreated, ProductCreated{
		ProductID: p.ID,
		Name:      p.Name,
		Category:  p.Category,
		Price:     p.Price,
		Stock:     p.Stock,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Update(ctx context.Context, productID string, patch Patch) (*Product, error) {
	p, err := s.repo.Get(ctx, productID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Category != nil {
		p.Category = strings.TrimSpace(*patch.Category)
	}
	if patch.Image != nil {
		p.Image = *patch.Image
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.Stock != nil {
		p.Stock = *patch.Stock
	}
	if err := validate(p); err != nil {
		return nil, err
	}
	p.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}
	if err := s.record(ctx, p.ID, EventProductUpdated, ProductUpdated{
		ProductID: p.ID,
		Name:      p.Name,
		Category:  p.Category,
		Price:     p.Price,
		Stock:     p.Stock,
		UpdatedAt: p.UpdatedAt,
	}); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Delete(ctx context.Context, productID string) error {
	if err := s.repo.Delete(ctx, productID); err != nil {
		return err
	}
	return s.record(ctx, productID, EventProductDeleted, ProductDeleted{
		ProductID: productID,
		DeletedAt: time.Now().UTC(),
	})
}

func (s *Service) Get(ctx context.Context, productID string) (*Product, error) {
	return s.repo.Get(ctx, productID)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Product, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) record(ctx context.Context, productID, eventType string, data any) error {
	if s.eventStore == nil {
		return nil
	}
	if _, err := s.eventStore.Append(ctx, productID, AggregateType, eventType, data); err != nil && !errors.Is(err, store.ErrPublish) {
		return fmt.Errorf("append %s: %w", eventType, err)
	}
	return nil
}
