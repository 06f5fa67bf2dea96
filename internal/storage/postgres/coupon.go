package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT id, code, percentage, description,
		valid_from, valid_until, max_uses, uses, once_per_user
		FROM coupons WHERE UPPER(code) = UPPER($1) AND active = TRUE`

	hasRedeemedSQL = `SELECT EXISTS (
		SELECT 1 FROM coupon_redemptions WHERE coupon_id = $1 AND user_id = $2)`

	// The usage check and increment happen in one statement so concurrent
	// redemptions cannot overrun max_uses.
	consumeCouponSQL = `UPDATE coupons SET uses = uses + 1
		WHERE id = $1 AND active = TRUE AND (max_uses = 0 OR uses < max_uses)`

	insertRedemptionSQL = `INSERT INTO coupon_redemptions (coupon_id, user_id, order_id, single_use)
		VALUES ($1, $2, $3, $4)`

	upsertCouponSQL = `INSERT INTO coupons (id, code, percentage, description,
		valid_from, valid_until, max_uses, once_per_user)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code, percentage = EXCLUDED.percentage,
			description = EXCLUDED.description, valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until, max_uses = EXCLUDED.max_uses,
			once_per_user = EXCLUDED.once_per_user, active = TRUE`

	redemptionOnceIndex = "coupon_redemptions_once_idx"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up an active coupon by its code (case-insensitive).
// Returns coupon.ErrInvalidCoupon when no matching active coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &rule, nil
}

// HasRedeemed reports whether userID already redeemed the coupon.
func (r *CouponRepository) HasRedeemed(ctx context.Context, couponID, userID string) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, hasRedeemedSQL, couponID, userID).Scan(&ok); err != nil {
		return false, errors.Wrap(err, "check redemption")
	}
	return ok, nil
}

// UpsertBatch writes coupons in a single round trip.
func (r *CouponRepository) UpsertBatch(ctx context.Context, rules []coupon.Rule) error {
	batch := &pgx.Batch{}
	for _, c := range rules {
		batch.Queue(upsertCouponSQL,
			c.ID, c.Code, c.Percentage, c.Description,
			c.ValidFrom, c.ValidUntil, c.MaxUses, c.OncePerUser,
		)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "upsert coupons")
	}
	return nil
}

// redeem consumes one use of the coupon inside tx.
func redeem(ctx context.Context, tx pgx.Tx, red coupon.Redemption) error {
	tag, err := tx.Exec(ctx, consumeCouponSQL, red.CouponID)
	if err != nil {
		return errors.Wrap(err, "consume coupon")
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrCouponUsageLimitReached
	}

	_, err = tx.Exec(ctx, insertRedemptionSQL, red.CouponID, red.UserID, red.OrderID, red.OncePerUser)
	if err != nil {
		if isUniqueViolation(err, redemptionOnceIndex) {
			return coupon.ErrCouponAlreadyUsed
		}
		return errors.Wrap(err, "insert redemption")
	}
	return nil
}

func scanCouponRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule    coupon.Rule
		maxUses int32
		uses    int32
	)
	err := row.Scan(
		&rule.ID, &rule.Code, &rule.Percentage, &rule.Description,
		&rule.ValidFrom, &rule.ValidUntil, &maxUses, &uses, &rule.OncePerUser,
	)
	rule.MaxUses = int(maxUses)
	rule.Uses = int(uses)
	return rule, err
}
