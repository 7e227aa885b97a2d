package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the slice of the catalog the coupon engine needs: price and
// category for applicability matching.
type Product struct {
	ID         string
	Name       string
	Price      decimal.Decimal
	CategoryID string
}

// Repository is the product/category directory.
type Repository interface {
	// GetByIDs returns the products that exist. Missing ids are skipped.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	// CategoriesByIDs maps product ids to category ids.
	CategoriesByIDs(ctx context.Context, ids []string) (map[string]string, error)
}

// Writer loads products into the directory. Used by seeding and tests.
type Writer interface {
	Upsert(ctx context.Context, products []Product) error
}
