package pricing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

func newTestEngine(products product.Repository) *Engine {
	e := NewEngine(DefaultConfig(), products, testCoupons(), testUsers(), nil)
	e.discount.now = func() time.Time { return testNow }
	return e
}

func TestEngine_EstimateExamples(t *testing.T) {
	e := newTestEngine(testCatalog())

	tests := []struct {
		name         string
		req          EstimateRequest
		wantDiscount string
		wantSubtotal string
		wantTax      string
		wantTotal    string
	}{
		{
			name:         "90% coupon",
			req:          EstimateRequest{UserID: "old", CouponCode: "SAVE90", Subtotal: dec("22")},
			wantDiscount: "19.8", wantSubtotal: "2.2", wantTax: "0.4", wantTotal: "2.6",
		},
		{
			name:         "new user promotion",
			req:          EstimateRequest{UserID: "new", Subtotal: dec("22")},
			wantDiscount: "1.1", wantSubtotal: "20.9", wantTax: "3.76", wantTotal: "24.66",
		},
		{
			name:         "client delivery cost is used without zone",
			req:          EstimateRequest{UserID: "old", Subtotal: dec("100"), DeliveryCost: dec("15")},
			wantDiscount: "0", wantSubtotal: "100", wantTax: "20.7", wantTotal: "135.7",
		},
		{
			name:         "negative delivery cost is clamped",
			req:          EstimateRequest{UserID: "old", Subtotal: dec("100"), DeliveryCost: dec("-15")},
			wantDiscount: "0", wantSubtotal: "100", wantTax: "18", wantTotal: "118",
		},
		{
			name: "zone fee is computed on server",
			req: EstimateRequest{
				UserID: "old", Subtotal: dec("100"), DeliveryCost: dec("999"),
				DeliveryType: DeliveryCourier, DeliveryZone: "near", Weight: dec("40"),
			},
			wantDiscount: "0", wantSubtotal: "100", wantTax: "25.2", wantTotal: "165.2",
		},
		{
			name: "free delivery threshold uses discounted subtotal",
			req: EstimateRequest{
				UserID: "old", CouponCode: "SAVE10", Subtotal: dec("900"),
				DeliveryType: DeliveryCourier, DeliveryZone: "near", Weight: dec("1"),
			},
			wantDiscount: "90", wantSubtotal: "810", wantTax: "149.4", wantTotal: "979.4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := e.Estimate(context.Background(), tt.req)
			require.NoError(t, err)
			assertDecimal(t, tt.wantDiscount, q.DiscountAmount, "discount")
			assertDecimal(t, tt.wantSubtotal, q.Subtotal, "subtotal")
			assertDecimal(t, tt.wantTax, q.Tax, "tax")
			assertDecimal(t, tt.wantTotal, q.Total, "total")
		})
	}
}

func TestEngine_EstimateErrors(t *testing.T) {
	e := newTestEngine(testCatalog())

	_, err := e.Estimate(context.Background(), EstimateRequest{Subtotal: dec("-1")})
	require.ErrorIs(t, err, ErrInvalidSubtotal)

	_, err = e.Estimate(context.Background(), EstimateRequest{Subtotal: dec("10"), DeliveryType: DeliveryCourier})
	require.ErrorIs(t, err, ErrMissingDeliveryZone)

	_, err = e.Estimate(context.Background(), EstimateRequest{Subtotal: dec("10"), CouponCode: "BOGUS", UserID: "new"})
	require.ErrorIs(t, err, coupon.ErrInvalidCoupon)
}

// Both endpoints must produce identical amounts for the same cart, user and
// coupon.
func TestEngine_EstimateMatchesCheckout(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		code   string
		items  []CartItem
		typ    DeliveryType
		zone   string
	}{
		{
			name:   "coupon with pickup",
			userID: "old", code: "SAVE90",
			items: []CartItem{{ProductID: "p1", Quantity: qty(2)}, {ProductID: "p2", Quantity: qty(1)}, {Name: "Wrap", ClientPrice: nullDec("2")}},
			typ:   DeliveryPickup,
		},
		{
			name:   "new user with heavy delivery",
			userID: "new",
			items:  []CartItem{{ProductID: "p1", Quantity: qty(20)}},
			typ:    DeliveryCourier, zone: "capital",
		},
		{
			name:   "odd cents",
			userID: "new", code: "SAVE10",
			items: []CartItem{{Name: "Custom", ClientPrice: nullDec("3.33"), Quantity: qty(3)}, {ProductID: "p3"}},
			typ:   DeliveryCourier, zone: "remote",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(testCatalog())
			ctx := context.Background()

			co, err := e.Checkout(ctx, CheckoutRequest{
				UserID: tt.userID, CouponCode: tt.code, Items: tt.items,
				DeliveryType: tt.typ, DeliveryZone: tt.zone,
			})
			require.NoError(t, err)

			est, err := e.Estimate(ctx, EstimateRequest{
				UserID: tt.userID, CouponCode: tt.code, Subtotal: co.SubtotalBeforeDiscount,
				DeliveryType: tt.typ, DeliveryZone: tt.zone, Weight: co.Weight,
			})
			require.NoError(t, err)

			want, err := json.Marshal(co.Quote)
			require.NoError(t, err)
			got, err := json.Marshal(est)
			require.NoError(t, err)
			assert.JSONEq(t, string(want), string(got))
			assert.Equal(t, string(want), string(got))
		})
	}
}

func TestEngine_Checkout(t *testing.T) {
	t.Run("missing zone fails before catalog lookup", func(t *testing.T) {
		repo := testCatalog()
		e := newTestEngine(repo)

		_, err := e.Checkout(context.Background(), CheckoutRequest{
			Items:        []CartItem{{ProductID: "p1"}},
			DeliveryType: DeliveryCourier,
		})
		require.ErrorIs(t, err, ErrMissingDeliveryZone)
		assert.Zero(t, repo.totalCalls())
	})

	t.Run("client total drift is corrected", func(t *testing.T) {
		ctx, logs := observedContext(zap.WarnLevel)
		e := newTestEngine(testCatalog())

		co, err := e.Checkout(ctx, CheckoutRequest{
			UserID:       "old",
			Items:        []CartItem{{ProductID: "p1", Quantity: qty(10)}},
			DeliveryType: DeliveryPickup,
			ClientTotal:  nullDec("117.5"),
		})
		require.NoError(t, err)
		assertDecimal(t, "118", co.Total)
		assert.Equal(t, 1, logs.FilterMessage("Total mismatch").Len())
	})

	t.Run("large client total drift is rejected", func(t *testing.T) {
		e := newTestEngine(testCatalog())

		_, err := e.Checkout(context.Background(), CheckoutRequest{
			UserID:       "old",
			Items:        []CartItem{{ProductID: "p1", Quantity: qty(10)}},
			DeliveryType: DeliveryPickup,
			ClientTotal:  nullDec("1"),
		})
		require.ErrorIs(t, err, ErrTotalMismatch)
	})

	t.Run("declared weight never lowers the delivery tier", func(t *testing.T) {
		e := newTestEngine(testCatalog())
		ctx, logs := observedContext(zapcore.WarnLevel)

		// 16 kettles of 2kg weigh 32kg, the second weight tier.
		co, err := e.Checkout(ctx, CheckoutRequest{
			UserID:       "old",
			Items:        []CartItem{{ProductID: "p1", Quantity: qty(16)}},
			DeliveryType: DeliveryCourier,
			DeliveryZone: "near",
			ClientWeight: decimal.NewFromInt(1),
		})
		require.NoError(t, err)
		assertDecimal(t, "32", co.Weight)
		assertDecimal(t, "40", co.DeliveryCost)
		require.Equal(t, 1, logs.FilterMessage("Weight mismatch, using item weight").Len())
	})

	t.Run("matching declared weight is not logged", func(t *testing.T) {
		e := newTestEngine(testCatalog())
		ctx, logs := observedContext(zapcore.WarnLevel)

		co, err := e.Checkout(ctx, CheckoutRequest{
			UserID:       "old",
			Items:        []CartItem{{ProductID: "p1"}},
			DeliveryType: DeliveryCourier,
			DeliveryZone: "near",
			ClientWeight: decimal.NewFromInt(2),
		})
		require.NoError(t, err)
		assertDecimal(t, "20", co.DeliveryCost)
		assert.Zero(t, logs.Len())
	})

	t.Run("price mismatch never reaches the total", func(t *testing.T) {
		e := newTestEngine(testCatalog())

		co, err := e.Checkout(context.Background(), CheckoutRequest{
			UserID:       "old",
			Items:        []CartItem{{ProductID: "p1", ClientPrice: nullDec("1")}},
			DeliveryType: DeliveryPickup,
		})
		require.NoError(t, err)
		require.Len(t, co.Mismatches, 1)
		assertDecimal(t, "10", co.Items[0].UnitPrice)
		assertDecimal(t, "11.8", co.Total)
	})
}
