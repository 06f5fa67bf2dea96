package failedorder

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	minTxIDLen = 3
	maxTxIDLen = 100
)

// Limit bounds how many records a user may submit in a rolling window.
type Limit struct {
	Max    int64
	Window time.Duration
}

// DefaultLimit is five reports per five minutes.
func DefaultLimit() Limit {
	return Limit{Max: 5, Window: 5 * time.Minute}
}

// SubmitRequest is a client report of a paid order that was not created.
type SubmitRequest struct {
	UserID        string
	TransactionID string
	OrderData     json.RawMessage
	Comment       string
}

// Recorder stores failed orders idempotently by transaction id.
type Recorder struct {
	repo    Repository
	limit   Limit
	metrics *Metrics
	now     func() time.Time
}

// NewRecorder creates a Recorder.
func NewRecorder(repo Repository, limit Limit, metrics *Metrics) *Recorder {
	return &Recorder{repo: repo, limit: limit, metrics: metrics, now: time.Now}
}

// Submit records req. It returns created=false when an existing record of
// the same user was updated.
func (r *Recorder) Submit(ctx context.Context, req SubmitRequest) (rec *Record, created bool, err error) {
	txID := strings.TrimSpace(req.TransactionID)
	if len(txID) < minTxIDLen || len(txID) > maxTxIDLen {
		return nil, false, errors.Wrap(ErrInvalidRecord, "transaction id")
	}
	amount, err := parseOrderData(req.OrderData)
	if err != nil {
		return nil, false, err
	}
	req.TransactionID = txID

	existing, err := r.repo.FindByTransactionID(ctx, txID)
	switch {
	case err == nil:
		return r.resubmit(ctx, existing, req, amount)
	case !errors.Is(err, ErrNotFound):
		return nil, false, errors.Wrap(err, "find failed order")
	}

	if err := r.checkRate(ctx, req.UserID); err != nil {
		return nil, false, err
	}

	now := r.now().UTC()
	rec = &Record{
		ID:            uuid.New().String(),
		TransactionID: txID,
		UserID:        req.UserID,
		Amount:        amount,
		OrderData:     req.OrderData,
		Comment:       req.Comment,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.repo.Insert(ctx, rec); err != nil {
		if !errors.Is(err, ErrDuplicate) {
			return nil, false, errors.Wrap(err, "insert failed order")
		}
		// Lost a race with a concurrent submit of the same transaction.
		existing, err := r.repo.FindByTransactionID(ctx, txID)
		if err != nil {
			return nil, false, errors.Wrap(err, "find failed order")
		}
		return r.resubmit(ctx, existing, req, amount)
	}

	zctx.From(ctx).Warn("Failed order recorded",
		zap.String("transaction_id", txID),
		zap.String("user_id", req.UserID),
		zap.Stringer("amount", amount),
	)
	return rec, true, nil
}

func (r *Recorder) resubmit(ctx context.Context, existing *Record, req SubmitRequest, amount decimal.Decimal) (*Record, bool, error) {
	if existing.UserID != req.UserID {
		zctx.From(ctx).Error("Failed order transaction conflict",
			zap.String("transaction_id", existing.TransactionID),
			zap.String("owner_id", existing.UserID),
			zap.String("user_id", req.UserID),
			zap.Bool("security_review", true),
		)
		r.metrics.conflict(ctx)
		return nil, false, ErrConflict
	}

	existing.OrderData = req.OrderData
	existing.Amount = amount
	existing.Comment = req.Comment
	existing.UpdatedAt = r.now().UTC()
	if err := r.repo.Update(ctx, existing); err != nil {
		return nil, false, errors.Wrap(err, "update failed order")
	}
	return existing, false, nil
}

// checkRate fails open: a broken count query must not lose the record of a
// paid order.
func (r *Recorder) checkRate(ctx context.Context, userID string) error {
	if r.limit.Max <= 0 {
		return nil
	}
	since := r.now().Add(-r.limit.Window)
	n, err := r.repo.CountByUserSince(ctx, userID, since)
	if err != nil {
		zctx.From(ctx).Warn("Failed order rate check unavailable, allowing",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		r.metrics.rateCheckUnavailable(ctx)
		return nil
	}
	if n >= r.limit.Max {
		return ErrRateLimited
	}
	return nil
}

// Review moves a record along pending, reviewed, resolved.
func (r *Recorder) Review(ctx context.Context, id string, to Status, reviewer string) (*Record, error) {
	rec, err := r.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get failed order")
	}
	if !CanTransition(rec.Status, to) {
		return nil, errors.Wrapf(ErrInvalidStatus, "%s to %s", rec.Status, to)
	}

	from := rec.Status
	rec.Status = to
	rec.ReviewedBy = reviewer
	rec.UpdatedAt = r.now().UTC()
	if err := r.repo.UpdateStatus(ctx, rec, from); err != nil {
		if errors.Is(err, ErrConcurrentUpdate) {
			return nil, err
		}
		return nil, errors.Wrap(err, "update failed order status")
	}
	return rec, nil
}

// List returns records in the given status, or all records.
func (r *Recorder) List(ctx context.Context, status Status) ([]Record, error) {
	recs, err := r.repo.List(ctx, status)
	if err != nil {
		return nil, errors.Wrap(err, "list failed orders")
	}
	return recs, nil
}

type orderPayload struct {
	Items []json.RawMessage   `json:"items"`
	Total decimal.NullDecimal `json:"total"`
}

// parseOrderData checks that data is an order with at least one item and a
// positive total, returning the total.
func parseOrderData(data json.RawMessage) (decimal.Decimal, error) {
	if len(data) == 0 {
		return decimal.Zero, errors.Wrap(ErrInvalidRecord, "order data required")
	}
	var p orderPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return decimal.Zero, errors.Wrap(ErrInvalidRecord, "order data is not an object")
	}
	if len(p.Items) == 0 {
		return decimal.Zero, errors.Wrap(ErrInvalidRecord, "order data has no items")
	}
	if !p.Total.Valid || !p.Total.Decimal.IsPositive() {
		return decimal.Zero, errors.Wrap(ErrInvalidRecord, "order total must be positive")
	}
	return p.Total.Decimal, nil
}
