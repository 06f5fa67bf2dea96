package pricing

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/user"
)

// DiscountType names the source of an order discount.
type DiscountType string

const (
	DiscountNone    DiscountType = ""
	DiscountCoupon  DiscountType = "coupon"
	DiscountNewUser DiscountType = "new_user"
)

// averageMonth avoids calendar boundary artifacts in account age checks.
const averageMonth = time.Duration(30.44 * 24 * float64(time.Hour))

// Discount is the single discount applied to an order. A coupon always wins
// over the new-user promotion; the two are never combined.
type Discount struct {
	Type       DiscountType    `json:"type"`
	Percentage decimal.Decimal `json:"percentage"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason,omitempty"`
	CouponCode string          `json:"couponCode,omitempty"`
	CouponID   string          `json:"couponId,omitempty"`
	// OncePerUser is carried so redemption can enforce the per-user rule.
	OncePerUser bool `json:"-"`
}

// Applied reports whether the discount is active.
func (d Discount) Applied() bool {
	return d.Type != DiscountNone
}

// DiscountResolver decides which discount applies to a subtotal.
type DiscountResolver struct {
	coupons        coupon.Validator
	users          user.Repository
	newUserPercent decimal.Decimal
	newUserMaxAge  time.Duration
	now            func() time.Time
}

// NewDiscountResolver creates a resolver granting newUserPercent to accounts
// younger than newUserMonths average months.
func NewDiscountResolver(
	coupons coupon.Validator,
	users user.Repository,
	newUserPercent decimal.Decimal,
	newUserMonths int,
) *DiscountResolver {
	return &DiscountResolver{
		coupons:        coupons,
		users:          users,
		newUserPercent: newUserPercent,
		newUserMaxAge:  time.Duration(newUserMonths) * averageMonth,
		now:            time.Now,
	}
}

// Resolve returns the discount for subtotal. A non-empty coupon code that
// fails validation fails the request; it never falls back to the new-user
// promotion.
func (r *DiscountResolver) Resolve(ctx context.Context, subtotal decimal.Decimal, code, userID string) (Discount, error) {
	code = strings.TrimSpace(code)
	if code != "" {
		rule, err := r.coupons.Validate(ctx, code, userID)
		if err != nil {
			return Discount{}, err
		}
		return Discount{
			Type:        DiscountCoupon,
			Percentage:  rule.Percentage,
			Amount:      clampAmount(Percent(subtotal, rule.Percentage), subtotal),
			Reason:      rule.Description,
			CouponCode:  rule.Code,
			CouponID:    rule.ID,
			OncePerUser: rule.OncePerUser,
		}, nil
	}

	eligible, err := r.isNewUser(ctx, userID)
	if err != nil {
		return Discount{}, err
	}
	if !eligible || r.newUserPercent.IsZero() {
		return Discount{Percentage: decimal.Zero, Amount: decimal.Zero}, nil
	}
	return Discount{
		Type:       DiscountNewUser,
		Percentage: r.newUserPercent,
		Amount:     clampAmount(Percent(subtotal, r.newUserPercent), subtotal),
		Reason:     "new customer discount",
	}, nil
}

func (r *DiscountResolver) isNewUser(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	u, err := r.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "lookup user")
	}
	return r.now().Sub(u.CreatedAt) < r.newUserMaxAge, nil
}

func clampAmount(amount, subtotal decimal.Decimal) decimal.Decimal {
	return Round2(floorAtZero(decimal.Min(amount, subtotal)))
}
