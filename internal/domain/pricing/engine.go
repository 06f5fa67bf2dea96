package pricing

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

// Config holds pricing parameters.
type Config struct {
	TaxRate             decimal.Decimal
	NewUserPercent      decimal.Decimal
	NewUserMonths       int
	MismatchRejectRatio decimal.Decimal
	Zones               []Zone
	WeightStep          decimal.Decimal
	MaxWeightMultiplier int64
}

// DefaultConfig returns the production pricing parameters.
func DefaultConfig() Config {
	return Config{
		TaxRate:             decimal.RequireFromString("0.18"),
		NewUserPercent:      decimal.NewFromInt(5),
		NewUserMonths:       3,
		MismatchRejectRatio: decimal.RequireFromString("0.5"),
		Zones:               DefaultZones(),
		WeightStep:          decimal.NewFromInt(30),
		MaxWeightMultiplier: 2,
	}
}

// Quote is a priced order: the breakdown plus the discount that produced it.
type Quote struct {
	Totals
	Discount Discount
}

// EstimateRequest is a pre-checkout quote for an already known subtotal.
type EstimateRequest struct {
	UserID     string
	CouponCode string
	Subtotal   decimal.Decimal
	// DeliveryType and DeliveryZone select a server-computed fee. Without a
	// delivery type, DeliveryCost is used as supplied.
	DeliveryType DeliveryType
	DeliveryZone string
	Weight       decimal.Decimal
	DeliveryCost decimal.Decimal
}

// CheckoutRequest prices a cart for order creation.
type CheckoutRequest struct {
	UserID       string
	CouponCode   string
	Items        []CartItem
	DeliveryType DeliveryType
	DeliveryZone string
	// ClientWeight is the declared cart weight. It is only compared with
	// the weight summed from the items.
	ClientWeight decimal.Decimal
	ClientTotal  decimal.NullDecimal
}

// Checkout is the authoritative pricing of a cart.
type Checkout struct {
	Quote
	Items      []Item
	Mismatches []Mismatch
	Weight     decimal.Decimal
}

// Engine runs the pricing pipeline shared by estimates and order creation.
type Engine struct {
	prices   *PriceValidator
	discount *DiscountResolver
	delivery *DeliveryCalculator
	guard    *IntegrityGuard
	taxRate  decimal.Decimal
}

// NewEngine wires a pricing engine from its collaborators.
func NewEngine(
	cfg Config,
	products product.Repository,
	coupons coupon.Validator,
	users user.Repository,
	metrics *Metrics,
) *Engine {
	return &Engine{
		prices:   NewPriceValidator(products, metrics),
		discount: NewDiscountResolver(coupons, users, cfg.NewUserPercent, cfg.NewUserMonths),
		delivery: NewDeliveryCalculator(cfg.Zones, cfg.WeightStep, cfg.MaxWeightMultiplier),
		guard:    NewIntegrityGuard(cfg.MismatchRejectRatio, metrics),
		taxRate:  cfg.TaxRate,
	}
}

// TaxRate returns the configured tax rate.
func (e *Engine) TaxRate() decimal.Decimal {
	return e.taxRate
}

// Estimate prices a subtotal the same way Checkout prices a cart.
func (e *Engine) Estimate(ctx context.Context, req EstimateRequest) (*Quote, error) {
	if req.Subtotal.IsNegative() {
		return nil, ErrInvalidSubtotal
	}
	subtotal := Round2(req.Subtotal)

	var fee feeFunc
	if req.DeliveryType != "" {
		if _, err := e.delivery.Zone(req.DeliveryType, req.DeliveryZone); err != nil {
			return nil, err
		}
		fee = e.zoneFee(req.DeliveryType, req.DeliveryZone, req.Weight)
	} else {
		cost := Round2(floorAtZero(req.DeliveryCost))
		fee = func(decimal.Decimal) (decimal.Decimal, error) { return cost, nil }
	}

	return e.price(ctx, subtotal, req.CouponCode, req.UserID, fee)
}

// Checkout validates items and prices them. A client total that disagrees
// with the server total is logged and ignored unless the difference exceeds
// the reject threshold.
func (e *Engine) Checkout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	// Fail on a missing zone before touching the catalog.
	if _, err := e.delivery.Zone(req.DeliveryType, req.DeliveryZone); err != nil {
		return nil, err
	}

	cart, err := e.prices.Validate(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	weight := cart.Weight
	if req.ClientWeight.IsPositive() && !req.ClientWeight.Equal(weight) {
		zctx.From(ctx).Warn("Weight mismatch, using item weight",
			zap.Stringer("client_weight", req.ClientWeight),
			zap.Stringer("server_weight", weight),
		)
	}

	q, err := e.price(ctx, cart.Subtotal, req.CouponCode, req.UserID,
		e.zoneFee(req.DeliveryType, req.DeliveryZone, weight))
	if err != nil {
		return nil, err
	}
	if err := e.guard.Check(ctx, req.ClientTotal, q.Total); err != nil {
		return nil, err
	}

	return &Checkout{
		Quote:      *q,
		Items:      cart.Items,
		Mismatches: cart.Mismatches,
		Weight:     weight,
	}, nil
}

// feeFunc returns the delivery fee for a post-discount subtotal.
type feeFunc func(subtotal decimal.Decimal) (decimal.Decimal, error)

func (e *Engine) zoneFee(t DeliveryType, zone string, weight decimal.Decimal) feeFunc {
	return func(subtotal decimal.Decimal) (decimal.Decimal, error) {
		return e.delivery.Fee(t, zone, weight, subtotal)
	}
}

func (e *Engine) price(ctx context.Context, subtotal decimal.Decimal, code, userID string, fee feeFunc) (*Quote, error) {
	d, err := e.discount.Resolve(ctx, subtotal, code, userID)
	if err != nil {
		return nil, err
	}

	after := Round2(floorAtZero(subtotal.Sub(d.Amount)))
	deliveryFee, err := fee(after)
	if err != nil {
		return nil, err
	}

	return &Quote{
		Totals:   Assemble(subtotal, d.Amount, deliveryFee, e.taxRate),
		Discount: d,
	}, nil
}
