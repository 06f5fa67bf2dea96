package pricing

import "github.com/shopspring/decimal"

// Totals is the final breakdown of an order amount.
type Totals struct {
	SubtotalBeforeDiscount decimal.Decimal
	DiscountAmount         decimal.Decimal
	Subtotal               decimal.Decimal
	DeliveryCost           decimal.Decimal
	Tax                    decimal.Decimal
	Total                  decimal.Decimal
}

// Assemble combines the components of an order into its total:
//
//	subtotal = round2(max(0, round2(before) - round2(discount)))
//	base     = round2(subtotal + delivery)
//	tax      = round2(base * taxRate)
//	total    = round2(base + tax)
func Assemble(subtotalBeforeDiscount, discount, deliveryFee, taxRate decimal.Decimal) Totals {
	// Inputs are rounded first so the reported breakdown reproduces itself.
	before := Round2(subtotalBeforeDiscount)
	discountAmount := Round2(discount)
	subtotal := Round2(floorAtZero(before.Sub(discountAmount)))
	delivery := Round2(floorAtZero(deliveryFee))
	base := Round2(subtotal.Add(delivery))
	tax := Round2(base.Mul(taxRate))

	return Totals{
		SubtotalBeforeDiscount: before,
		DiscountAmount:         discountAmount,
		Subtotal:               subtotal,
		DeliveryCost:           delivery,
		Tax:                    tax,
		Total:                  Round2(base.Add(tax)),
	}
}
