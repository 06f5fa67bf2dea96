package order

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrConcurrentUpdate is returned when the order changed between read
	// and write.
	ErrConcurrentUpdate = errors.New("order was modified concurrently")
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in_progress"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusNew:        {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusDelivered, StatusCancelled},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Metadata describes how the order is delivered and paid.
type Metadata struct {
	DeliveryType  pricing.DeliveryType `json:"deliveryType"`
	DeliveryZone  string               `json:"deliveryZone,omitempty"`
	PaymentMethod string               `json:"paymentMethod,omitempty"`
	TotalWeight   decimal.Decimal      `json:"totalWeight"`
}

// Order is a persisted checkout. Every amount is computed on the server.
type Order struct {
	ID                     string
	UserID                 string
	Items                  []pricing.Item
	SubtotalBeforeDiscount decimal.Decimal
	// Discount is nil when no discount applied.
	Discount        *pricing.Discount
	Subtotal        decimal.Decimal
	DeliveryCost    decimal.Decimal
	Tax             decimal.Decimal
	Total           decimal.Decimal
	Status          Status
	ShippingAddress string
	Phone           string
	Notes           string
	TransactionID   string
	CouponCode      string
	Metadata        Metadata
	Archived        bool
	ArchivedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create stores the order. A non-nil redemption is applied in the same
	// transaction, so a coupon that runs out of uses fails the insert.
	Create(ctx context.Context, o *Order, redemption *coupon.Redemption) error
	GetByID(ctx context.Context, id string) (*Order, error)
	// ListByUser returns the user's orders, newest first.
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	List(ctx context.Context, archived bool) ([]Order, error)
	// Update writes the mutable fields of o if its stored status is still
	// prevStatus, returning ErrConcurrentUpdate otherwise.
	Update(ctx context.Context, o *Order, prevStatus Status) error
	Archive(ctx context.Context, id string, at time.Time) error
}
