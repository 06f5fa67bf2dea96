package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssemble(t *testing.T) {
	tests := []struct {
		name         string
		before       string
		discount     string
		delivery     string
		wantSubtotal string
		wantTax      string
		wantTotal    string
	}{
		{
			name:   "90% coupon on 22",
			before: "22", discount: "19.8", delivery: "0",
			wantSubtotal: "2.2", wantTax: "0.40", wantTotal: "2.60",
		},
		{
			name:   "new user 5% on 22",
			before: "22", discount: "1.1", delivery: "0",
			wantSubtotal: "20.9", wantTax: "3.76", wantTotal: "24.66",
		},
		{
			name:   "delivery is taxed",
			before: "100", discount: "0", delivery: "20",
			wantSubtotal: "100", wantTax: "21.6", wantTotal: "141.6",
		},
		{
			name:   "tax rounds half away from zero",
			before: "2.75", discount: "0", delivery: "0",
			wantSubtotal: "2.75", wantTax: "0.50", wantTotal: "3.25",
		},
		{
			name:   "discount larger than subtotal floors at zero",
			before: "10", discount: "15", delivery: "5",
			wantSubtotal: "0", wantTax: "0.9", wantTotal: "5.9",
		},
		{
			name:   "negative delivery is ignored",
			before: "10", discount: "0", delivery: "-3",
			wantSubtotal: "10", wantTax: "1.8", wantTotal: "11.8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Assemble(dec(tt.before), dec(tt.discount), dec(tt.delivery), dec("0.18"))

			assertDecimal(t, tt.wantSubtotal, got.Subtotal, "subtotal")
			assertDecimal(t, tt.wantTax, got.Tax, "tax")
			assertDecimal(t, tt.wantTotal, got.Total, "total")

			base := Round2(got.Subtotal.Add(got.DeliveryCost))
			assert.True(t, got.Total.Equal(base.Add(Round2(base.Mul(dec("0.18"))))))
		})
	}
}

func TestAssembleIsStable(t *testing.T) {
	tests := []struct {
		name     string
		before   string
		discount string
		delivery string
		taxRate  string
	}{
		{name: "whole amounts", before: "22", discount: "1.1", delivery: "0", taxRate: "0.18"},
		{name: "half cent tax", before: "2.75", discount: "0", delivery: "0", taxRate: "0.18"},
		{name: "sub-cent inputs", before: "1.004", discount: "0.005", delivery: "3.333", taxRate: "0.18"},
		{name: "odd tax rate", before: "99.99", discount: "33.33", delivery: "19.99", taxRate: "0.0725"},
		{name: "discount above subtotal", before: "10", discount: "15.555", delivery: "5", taxRate: "0.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate := dec(tt.taxRate)
			first := Assemble(dec(tt.before), dec(tt.discount), dec(tt.delivery), rate)

			for i := 0; i < 100; i++ {
				got := Assemble(dec(tt.before), dec(tt.discount), dec(tt.delivery), rate)
				assertTotalsEqual(t, first, got)
			}

			again := Assemble(first.SubtotalBeforeDiscount, first.DiscountAmount, first.DeliveryCost, rate)
			assertTotalsEqual(t, first, again)
			assert.True(t, first.Subtotal.Equal(floorAtZero(first.SubtotalBeforeDiscount.Sub(first.DiscountAmount))))
		})
	}
}

func assertTotalsEqual(t *testing.T, want, got Totals) {
	t.Helper()
	assertDecimal(t, want.SubtotalBeforeDiscount.String(), got.SubtotalBeforeDiscount, "subtotal before discount")
	assertDecimal(t, want.DiscountAmount.String(), got.DiscountAmount, "discount")
	assertDecimal(t, want.Subtotal.String(), got.Subtotal, "subtotal")
	assertDecimal(t, want.DeliveryCost.String(), got.DeliveryCost, "delivery")
	assertDecimal(t, want.Tax.String(), got.Tax, "tax")
	assertDecimal(t, want.Total.String(), got.Total, "total")
}

func TestRound2(t *testing.T) {
	tests := map[string]string{
		"0.005":   "0.01",
		"-0.005":  "-0.01",
		"0.004":   "0",
		"2.675":   "2.68",
		"19.8000": "19.8",
	}
	for in, want := range tests {
		assertDecimal(t, want, Round2(dec(in)), in)
	}
}
