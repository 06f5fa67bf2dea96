package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

const (
	orderColumns = `id, user_id, items, subtotal_before_discount, discount, subtotal,
		delivery_cost, tax, total, status, shipping_address, phone, notes,
		transaction_id, coupon_code, metadata, archived, archived_at, created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	listOrdersSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE archived = $1 ORDER BY created_at DESC`

	updateOrderSQL = `UPDATE orders SET status = $3, shipping_address = $4, phone = $5,
		notes = $6, metadata = $7, updated_at = $8
		WHERE id = $1 AND status = $2`

	archiveOrderSQL = `UPDATE orders SET archived = TRUE,
		archived_at = COALESCE(archived_at, $2), updated_at = $2
		WHERE id = $1`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order and applies the coupon redemption in one
// transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, red *coupon.Redemption) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "marshal items")
	}
	var discount []byte
	if o.Discount != nil {
		if discount, err = json.Marshal(o.Discount); err != nil {
			return errors.Wrap(err, "marshal discount")
		}
	}
	meta, err := json.Marshal(o.Metadata)
	if err != nil {
		return errors.Wrap(err, "marshal metadata")
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.UserID, items, o.SubtotalBeforeDiscount, discount, o.Subtotal,
			o.DeliveryCost, o.Tax, o.Total, string(o.Status), o.ShippingAddress, o.Phone, o.Notes,
			o.TransactionID, o.CouponCode, meta, o.Archived, o.ArchivedAt, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return errors.Wrapf(err, "insert order %q", o.ID)
		}
		if red == nil {
			return nil
		}
		return redeem(ctx, tx, *red)
	})
}

// GetByID returns the order with the given id.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	return &o, nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list user orders")
	}
	return pgx.CollectRows(rows, scanOrder)
}

// List returns active or archived orders, newest first.
func (r *OrderRepository) List(ctx context.Context, archived bool) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL, archived)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return pgx.CollectRows(rows, scanOrder)
}

// Update writes status and contact details if the stored status is still
// prevStatus.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order, prevStatus order.Status) error {
	meta, err := json.Marshal(o.Metadata)
	if err != nil {
		return errors.Wrap(err, "marshal metadata")
	}
	tag, err := r.pool.Exec(ctx, updateOrderSQL,
		o.ID, string(prevStatus), string(o.Status), o.ShippingAddress, o.Phone,
		o.Notes, meta, o.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "update order %q", o.ID)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.missingOr(ctx, o.ID, order.ErrConcurrentUpdate)
}

// Archive flags the order as archived. Archiving twice keeps the first
// archive time.
func (r *OrderRepository) Archive(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, archiveOrderSQL, id, at)
	if err != nil {
		return errors.Wrapf(err, "archive order %q", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) missingOr(ctx context.Context, id string, otherwise error) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return errors.Wrapf(err, "check order %q", id)
	}
	if !exists {
		return order.ErrNotFound
	}
	return otherwise
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                     order.Order
		items, discount, meta []byte
		status                string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &items, &o.SubtotalBeforeDiscount, &discount, &o.Subtotal,
		&o.DeliveryCost, &o.Tax, &o.Total, &status, &o.ShippingAddress, &o.Phone, &o.Notes,
		&o.TransactionID, &o.CouponCode, &meta, &o.Archived, &o.ArchivedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, errors.Wrap(err, "unmarshal items")
	}
	if len(discount) > 0 {
		var d pricing.Discount
		if err := json.Unmarshal(discount, &d); err != nil {
			return o, errors.Wrap(err, "unmarshal discount")
		}
		o.Discount = &d
	}
	if err := json.Unmarshal(meta, &o.Metadata); err != nil {
		return o, errors.Wrap(err, "unmarshal metadata")
	}
	return o, nil
}
