// Package failedorder records payments that succeeded while the order that
// should have followed them could not be stored.
package failedorder

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("failed order not found")
	// ErrDuplicate is returned by Repository.Insert when the transaction id
	// is already recorded.
	ErrDuplicate = errors.New("failed order already recorded")
	// ErrConflict is returned when a transaction id is already recorded for
	// another user.
	ErrConflict         = errors.New("transaction already recorded by another user")
	ErrRateLimited      = errors.New("too many failed order reports")
	ErrInvalidRecord    = errors.New("invalid failed order")
	ErrInvalidStatus    = errors.New("invalid failed order status transition")
	ErrConcurrentUpdate = errors.New("failed order was modified concurrently")
)

// Status is the review state of a record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusReviewed Status = "reviewed"
	StatusResolved Status = "resolved"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusReviewed},
	StatusReviewed: {StatusResolved},
}

// CanTransition reports whether a record may move between statuses.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Record is a failed order awaiting manual review.
type Record struct {
	ID            string
	TransactionID string
	UserID        string
	Amount        decimal.Decimal
	// OrderData is the order payload exactly as the client sent it.
	OrderData  json.RawMessage
	Comment    string
	Status     Status
	ReviewedBy string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Repository persists failed order records.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Record, error)
	FindByTransactionID(ctx context.Context, txID string) (*Record, error)
	Insert(ctx context.Context, r *Record) error
	// Update replaces the payload, amount and comment of an existing record.
	Update(ctx context.Context, r *Record) error
	CountByUserSince(ctx context.Context, userID string, since time.Time) (int64, error)
	// List returns records with the given status, or all when status is empty.
	List(ctx context.Context, status Status) ([]Record, error)
	// UpdateStatus moves the record to r.Status if it is still in from.
	UpdateStatus(ctx context.Context, r *Record, from Status) error
}
