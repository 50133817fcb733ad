package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog item as the discount engine sees it.
type Product struct {
	ID         string
	Name       string
	Price      decimal.Decimal
	CategoryID string
}

// Repository defines read operations for the product catalog.
type Repository interface {
	// GetByIDs returns the products that exist among ids, in no particular
	// order. Missing ids are simply absent from the result.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
