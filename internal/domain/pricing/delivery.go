package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DeliveryType selects how an order reaches the customer.
type DeliveryType string

const (
	DeliveryPickup  DeliveryType = "pickup"
	DeliveryCourier DeliveryType = "delivery"
)

// Zone is a shipping region with its own fee and free-delivery threshold.
type Zone struct {
	ID            string
	BaseFee       decimal.Decimal
	FreeThreshold decimal.Decimal
}

// DefaultZones is the zone table used when none is configured.
func DefaultZones() []Zone {
	return []Zone{
		{ID: "near", BaseFee: decimal.NewFromInt(20), FreeThreshold: decimal.NewFromInt(850)},
		{ID: "capital", BaseFee: decimal.NewFromInt(35), FreeThreshold: decimal.NewFromInt(850)},
		{ID: "south", BaseFee: decimal.NewFromInt(45), FreeThreshold: decimal.NewFromInt(850)},
		{ID: "remote", BaseFee: decimal.NewFromInt(60), FreeThreshold: decimal.NewFromInt(1500)},
	}
}

// DeliveryCalculator computes zone and weight tiered delivery fees.
type DeliveryCalculator struct {
	zones         map[string]Zone
	weightStep    decimal.Decimal
	maxMultiplier int64
}

// NewDeliveryCalculator creates a calculator where every weightStep kg adds
// one base fee, up to maxMultiplier base fees.
func NewDeliveryCalculator(zones []Zone, weightStep decimal.Decimal, maxMultiplier int64) *DeliveryCalculator {
	m := make(map[string]Zone, len(zones))
	for _, z := range zones {
		m[normalizeZone(z.ID)] = z
	}
	if maxMultiplier < 1 {
		maxMultiplier = 1
	}
	return &DeliveryCalculator{zones: m, weightStep: weightStep, maxMultiplier: maxMultiplier}
}

// Zone resolves the zone for a delivery request. Pickup needs no zone; any
// other delivery type requires a recognized one.
func (c *DeliveryCalculator) Zone(t DeliveryType, zoneID string) (*Zone, error) {
	if t == DeliveryPickup {
		return nil, nil
	}
	z, ok := c.zones[normalizeZone(zoneID)]
	if !ok {
		return nil, ErrMissingDeliveryZone
	}
	return &z, nil
}

// Fee returns the delivery fee for an order of weightKg with the given
// post-discount subtotal.
func (c *DeliveryCalculator) Fee(t DeliveryType, zoneID string, weightKg, subtotal decimal.Decimal) (decimal.Decimal, error) {
	z, err := c.Zone(t, zoneID)
	if err != nil {
		return decimal.Zero, err
	}
	if z == nil || subtotal.GreaterThanOrEqual(z.FreeThreshold) {
		return decimal.Zero, nil
	}
	mult := decimal.NewFromInt(c.Multiplier(weightKg))
	return Round2(z.BaseFee.Mul(mult)), nil
}

// Multiplier returns clamp(ceil(weight/step), 1, max).
func (c *DeliveryCalculator) Multiplier(weightKg decimal.Decimal) int64 {
	if !c.weightStep.IsPositive() || !weightKg.IsPositive() {
		return 1
	}
	n := weightKg.Div(c.weightStep).Ceil().IntPart()
	switch {
	case n < 1:
		return 1
	case n > c.maxMultiplier:
		return c.maxMultiplier
	default:
		return n
	}
}

func normalizeZone(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
