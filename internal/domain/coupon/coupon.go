package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidCoupon is returned when a coupon code is unknown, inactive or
	// carries an out of range percentage.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned when a coupon is outside its valid time window.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponUsageLimitReached is returned when a coupon has exhausted its allowed uses.
	ErrCouponUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrCouponAlreadyUsed is returned when a once-per-user coupon was already
	// redeemed by the caller.
	ErrCouponAlreadyUsed = errors.New("coupon already used")
)

// IsRejected reports whether err means the coupon cannot be applied to the
// request, as opposed to an infrastructure failure.
func IsRejected(err error) bool {
	return errors.Is(err, ErrInvalidCoupon) ||
		errors.Is(err, ErrCouponExpired) ||
		errors.Is(err, ErrCouponUsageLimitReached) ||
		errors.Is(err, ErrCouponAlreadyUsed)
}

// Rule is a percentage coupon with its eligibility constraints.
type Rule struct {
	ID          string
	Code        string
	Percentage  decimal.Decimal
	Description string
	ValidFrom   *time.Time
	ValidUntil  *time.Time
	// MaxUses of zero means unlimited.
	MaxUses     int
	Uses        int
	OncePerUser bool
}

// Redemption marks a coupon as consumed by an order. Stores must apply it
// atomically with the order insert, checking the usage limit and the
// per-user rule in the same step, and answer ErrCouponUsageLimitReached or
// ErrCouponAlreadyUsed when it cannot be applied.
type Redemption struct {
	CouponID    string
	UserID      string
	OrderID     string
	OncePerUser bool
}

// Repository provides lookup of coupon rules.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
	HasRedeemed(ctx context.Context, couponID, userID string) (bool, error)
}
