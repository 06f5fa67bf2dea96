package pricing

import (
	"context"
	"math"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/product"
)

const (
	maxQuantity   = 10_000
	fetchParallel = 8
)

// CartItem is a line as submitted by the client. An empty ProductID marks a
// free-form custom item priced by the client.
type CartItem struct {
	ProductID     string
	Name          string
	Image         string
	ClientPrice   decimal.NullDecimal
	Quantity      *float64
	SelectedSize  string
	SelectedColor string
	ClientWeight  decimal.NullDecimal
}

// Item is a normalized order line. UnitPrice always comes from the catalog
// when ProductID is set.
type Item struct {
	ProductID     string          `json:"productId,omitempty"`
	Name          string          `json:"name"`
	Image         string          `json:"image,omitempty"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"price"`
	Weight        decimal.Decimal `json:"weight"`
	SelectedSize  string          `json:"selectedSize,omitempty"`
	SelectedColor string          `json:"selectedColor,omitempty"`
}

// LineTotal returns UnitPrice * Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Mismatch records a client price that differed from the catalog price.
type Mismatch struct {
	ProductID   string
	ClientPrice decimal.Decimal
	ServerPrice decimal.Decimal
}

// ValidatedCart is the output of PriceValidator.
type ValidatedCart struct {
	Items      []Item
	Mismatches []Mismatch
	// Subtotal is the rounded sum of line totals before any discount.
	Subtotal decimal.Decimal
	// Weight is the total weight in kilograms.
	Weight decimal.Decimal
}

// PriceValidator resolves authoritative unit prices for cart items.
type PriceValidator struct {
	products product.Repository
	metrics  *Metrics
}

// NewPriceValidator creates a PriceValidator reading from products.
func NewPriceValidator(products product.Repository, metrics *Metrics) *PriceValidator {
	return &PriceValidator{products: products, metrics: metrics}
}

// Validate normalizes items, fetching every referenced product concurrently.
// Price mismatches are logged and corrected, never returned as errors.
func (v *PriceValidator) Validate(ctx context.Context, items []CartItem) (*ValidatedCart, error) {
	if len(items) == 0 {
		return nil, ErrInvalidItems
	}

	quantities := make([]int, len(items))
	for i, item := range items {
		q, err := normalizeQuantity(item.Quantity)
		if err != nil {
			return nil, &ItemError{Index: i, ProductID: item.ProductID, Err: err}
		}
		quantities[i] = q

		if item.ProductID == "" {
			if !item.ClientPrice.Valid || item.ClientPrice.Decimal.IsNegative() {
				return nil, &ItemError{Index: i, Err: ErrInvalidPrice}
			}
		}
	}

	products, err := v.fetch(ctx, items)
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx)
	out := &ValidatedCart{
		Items:    make([]Item, len(items)),
		Subtotal: decimal.Zero,
		Weight:   decimal.Zero,
	}
	for i, item := range items {
		line := Item{
			ProductID:     item.ProductID,
			Name:          item.Name,
			Image:         item.Image,
			Quantity:      quantities[i],
			SelectedSize:  item.SelectedSize,
			SelectedColor: item.SelectedColor,
			Weight:        decimal.Zero,
		}

		if item.ProductID == "" {
			line.UnitPrice = item.ClientPrice.Decimal
		} else {
			p := products[item.ProductID]
			server := p.EffectivePrice()
			line.UnitPrice = server
			line.Name = p.Name
			if p.Image != "" {
				line.Image = p.Image
			}
			line.Weight = p.Weight

			if item.ClientPrice.Valid && !withinTolerance(item.ClientPrice.Decimal, server) {
				m := Mismatch{
					ProductID:   item.ProductID,
					ClientPrice: item.ClientPrice.Decimal,
					ServerPrice: server,
				}
				out.Mismatches = append(out.Mismatches, m)
				lg.Warn("Price mismatch, using catalog price",
					zap.String("product_id", m.ProductID),
					zap.Stringer("client_price", m.ClientPrice),
					zap.Stringer("server_price", m.ServerPrice),
				)
				v.metrics.priceMismatch(ctx)
			}
		}

		if item.ClientWeight.Valid && !item.ClientWeight.Decimal.IsNegative() {
			line.Weight = item.ClientWeight.Decimal
		}

		qty := decimal.NewFromInt(int64(line.Quantity))
		out.Subtotal = out.Subtotal.Add(line.LineTotal())
		out.Weight = out.Weight.Add(line.Weight.Mul(qty))
		out.Items[i] = line
	}
	out.Subtotal = Round2(out.Subtotal)

	return out, nil
}

// fetch loads every distinct product referenced by items in parallel.
func (v *PriceValidator) fetch(ctx context.Context, items []CartItem) (map[string]product.Product, error) {
	index := make(map[string]int)
	var ids []string
	for i, item := range items {
		if item.ProductID == "" {
			continue
		}
		if _, ok := index[item.ProductID]; !ok {
			index[item.ProductID] = i
			ids = append(ids, item.ProductID)
		}
	}

	fetched := make([]product.Product, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchParallel)
	for n, id := range ids {
		g.Go(func() error {
			p, err := v.products.GetByID(gctx, id)
			if err != nil {
				if errors.Is(err, product.ErrNotFound) {
					return &ItemError{Index: index[id], ProductID: id, Err: ErrInvalidProduct}
				}
				return errors.Wrapf(err, "fetch product %s", id)
			}
			fetched[n] = *p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]product.Product, len(ids))
	for n, id := range ids {
		out[id] = fetched[n]
	}
	return out, nil
}

// normalizeQuantity defaults a missing quantity to 1 and rejects anything
// that is not a positive whole number.
func normalizeQuantity(q *float64) (int, error) {
	if q == nil || math.IsNaN(*q) {
		return 1, nil
	}
	v := *q
	if math.IsInf(v, 0) || v <= 0 || v != math.Trunc(v) || v > maxQuantity {
		return 0, ErrInvalidQuantity
	}
	return int(v), nil
}
