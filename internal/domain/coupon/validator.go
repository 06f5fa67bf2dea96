package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Validator checks that a coupon code can be used by a user right now.
type Validator interface {
	Validate(ctx context.Context, code, userID string) (*Rule, error)
}

// RepoValidator implements Validator on top of a Repository. It never
// consumes the coupon; redemption happens once the order is stored.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate looks up the coupon and checks activity, the validity window,
// the global usage limit and the per-user restriction.
func (v *RepoValidator) Validate(ctx context.Context, code, userID string) (*Rule, error) {
	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, ErrInvalidCoupon
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if rule.Percentage.IsNegative() || rule.Percentage.GreaterThan(hundred) {
		return nil, ErrInvalidCoupon
	}

	now := v.now()
	if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
		return nil, ErrCouponExpired
	}
	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		return nil, ErrCouponExpired
	}

	if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
		return nil, ErrCouponUsageLimitReached
	}

	if rule.OncePerUser {
		used, err := v.repo.HasRedeemed(ctx, rule.ID, userID)
		if err != nil {
			return nil, errors.Wrap(err, "check coupon redemption")
		}
		if used {
			return nil, ErrCouponAlreadyUsed
		}
	}

	return rule, nil
}
