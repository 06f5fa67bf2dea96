package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the authoritative catalog snapshot used for pricing.
type Product struct {
	ID        string
	Name      string
	Image     string
	Price     decimal.Decimal
	SalePrice decimal.Decimal
	OnSale    bool
	// Weight is the unit weight in kilograms.
	Weight decimal.Decimal
}

// EffectivePrice returns the sale price when the product is on sale with a
// positive sale price, and the regular price otherwise.
func (p Product) EffectivePrice() decimal.Decimal {
	if p.OnSale && p.SalePrice.IsPositive() {
		return p.SalePrice
	}
	return p.Price
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
}
