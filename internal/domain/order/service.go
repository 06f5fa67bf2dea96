package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

// Pricer prices carts. It is implemented by *pricing.Engine.
type Pricer interface {
	Checkout(ctx context.Context, req pricing.CheckoutRequest) (*pricing.Checkout, error)
}

var _ Pricer = (*pricing.Engine)(nil)

// CreateRequest holds the input for creating an order.
type CreateRequest struct {
	UserID          string
	Items           []pricing.CartItem
	ShippingAddress string
	Phone           string
	Notes           string
	TransactionID   string
	CouponCode      string
	// ClientTotal is compared with the computed total and never stored.
	ClientTotal   decimal.NullDecimal
	DeliveryType  pricing.DeliveryType
	DeliveryZone  string
	PaymentMethod string
	TotalWeight   decimal.Decimal
}

// PatchRequest holds admin changes to an order. Nil fields are left as is.
type PatchRequest struct {
	Status          *Status
	ShippingAddress *string
	Phone           *string
	Notes           *string
	PaymentMethod   *string
}

// Service encapsulates order creation and administration.
type Service struct {
	pricer Pricer
	orders Repository
	now    func() time.Time
}

// NewService creates an order Service.
func NewService(pricer Pricer, orders Repository) *Service {
	return &Service{
		pricer: pricer,
		orders: orders,
		now:    time.Now,
	}
}

// Create prices the cart on the server and persists the order together with
// its coupon redemption.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	co, err := s.pricer.Checkout(ctx, pricing.CheckoutRequest{
		UserID:       req.UserID,
		CouponCode:   req.CouponCode,
		Items:        req.Items,
		DeliveryType: req.DeliveryType,
		DeliveryZone: req.DeliveryZone,
		ClientWeight: req.TotalWeight,
		ClientTotal:  req.ClientTotal,
	})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	o := &Order{
		ID:                     uuid.New().String(),
		UserID:                 req.UserID,
		Items:                  co.Items,
		SubtotalBeforeDiscount: co.SubtotalBeforeDiscount,
		Subtotal:               co.Subtotal,
		DeliveryCost:           co.DeliveryCost,
		Tax:                    co.Tax,
		Total:                  co.Total,
		Status:                 StatusNew,
		ShippingAddress:        strings.TrimSpace(req.ShippingAddress),
		Phone:                  strings.TrimSpace(req.Phone),
		Notes:                  req.Notes,
		TransactionID:          strings.TrimSpace(req.TransactionID),
		Metadata: Metadata{
			DeliveryType:  req.DeliveryType,
			DeliveryZone:  req.DeliveryZone,
			PaymentMethod: req.PaymentMethod,
			TotalWeight:   co.Weight,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	var redemption *coupon.Redemption
	if co.Discount.Applied() {
		d := co.Discount
		o.Discount = &d
		if d.Type == pricing.DiscountCoupon {
			o.CouponCode = d.CouponCode
			redemption = &coupon.Redemption{
				CouponID:    d.CouponID,
				UserID:      req.UserID,
				OrderID:     o.ID,
				OncePerUser: d.OncePerUser,
			}
		}
	}

	if err := s.orders.Create(ctx, o, redemption); err != nil {
		if coupon.IsRejected(err) {
			return nil, err
		}
		return nil, errors.Wrap(err, "create order")
	}

	zctx.From(ctx).Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.Stringer("total", o.Total),
		zap.Int("price_corrections", len(co.Mismatches)),
	)
	return o, nil
}

// ListMine returns the caller's orders, newest first.
func (s *Service) ListMine(ctx context.Context, userID string) ([]Order, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list user orders")
	}
	return orders, nil
}

// List returns active or archived orders.
func (s *Service) List(ctx context.Context, archived bool) ([]Order, error) {
	orders, err := s.orders.List(ctx, archived)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// Patch applies admin changes. Status changes must follow the order
// lifecycle; terminal orders cannot change status.
func (s *Service) Patch(ctx context.Context, id string, req PatchRequest) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}

	prev := o.Status
	if req.Status != nil && *req.Status != o.Status {
		if !req.Status.Valid() || !CanTransition(o.Status, *req.Status) {
			return nil, errors.Wrapf(ErrInvalidTransition, "%s to %s", o.Status, *req.Status)
		}
		o.Status = *req.Status
	}
	if req.ShippingAddress != nil {
		o.ShippingAddress = strings.TrimSpace(*req.ShippingAddress)
	}
	if req.Phone != nil {
		o.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Notes != nil {
		o.Notes = *req.Notes
	}
	if req.PaymentMethod != nil {
		o.Metadata.PaymentMethod = *req.PaymentMethod
	}
	o.UpdatedAt = s.now().UTC()

	if err := s.orders.Update(ctx, o, prev); err != nil {
		if errors.Is(err, ErrConcurrentUpdate) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "update order")
	}

	if prev != o.Status {
		zctx.From(ctx).Info("Order status changed",
			zap.String("order_id", o.ID),
			zap.String("from", string(prev)),
			zap.String("to", string(o.Status)),
		)
	}
	return o, nil
}

// Archive hides an order from the active list.
func (s *Service) Archive(ctx context.Context, id string) error {
	if err := s.orders.Archive(ctx, id, s.now().UTC()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return errors.Wrap(err, "archive order")
	}
	return nil
}
