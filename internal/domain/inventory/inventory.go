// Package inventory reserves stock for multi-line orders. Each line is taken
// with the repository's atomic conditional decrement; when a later line
// fails, the lines already taken are put back before the error is returned.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/shop-checkout/internal/domain/product"
)

var (
	ErrOutOfStock      = errors.New("is out of stock")
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// StockStore is the subset of product.Repository that moves stock.
type StockStore interface {
	DecrementStock(ctx context.Context, productID string, qty int) error
	IncrementStock(ctx context.Context, productID string, qty int) error
}

type Line struct {
	ProductID string
	Name      string
	Quantity  int
}

// Reservation is stock already taken for an order attempt.
type Reservation struct {
	lines []Line
}

func (r *Reservation) Lines() []Line {
	if r == nil {
		return nil
	}
	return r.lines
}

type Service struct {
	stock StockStore
}

func NewService(stock StockStore) *Service {
	return &Service{stock: stock}
}

// Reserve decrements stock for every line in order. On failure nothing stays
// reserved. A lost race is reported as "<name> is out of stock".
func (s *Service) Reserve(ctx context.Context, lines []Line) (*Reservation, error) {
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
	}

	taken := &Reservation{lines: make([]Line, 0, len(lines))}
	for _, l := range lines {
		if err := s.stock.DecrementStock(ctx, l.ProductID, l.Quantity); err != nil {
			if errors.Is(err, product.ErrInsufficientStock) {
				err = fmt.Errorf("%s %w", l.Name, ErrOutOfStock)
			} else {
				err = fmt.Errorf("reserve %s: %w", l.ProductID, err)
			}
			if rerr := s.Release(ctx, taken); rerr != nil {
				return nil, errors.Join(err, rerr)
			}
			return nil, err
		}
		taken.lines = append(taken.lines, l)
	}
	return taken, nil
}

// Release puts reserved stock back. It runs even when ctx is already
// cancelled so an aborted request cannot leak stock.
func (s *Service) Release(ctx context.Context, r *Reservation) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for _, l := range r.Lines() {
		if err := s.stock.IncrementStock(ctx, l.ProductID, l.Quantity); err != nil {
			errs = append(errs, fmt.Errorf("restore %d of %s: %w", l.Quantity, l.ProductID, err))
		}
	}
	return errors.Join(errs...)
}
