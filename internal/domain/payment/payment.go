// Package payment implements a placeholder processor that only checks the
// charged amount against the server price.
package payment

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

var (
	ErrInvalidAmount   = errors.New("amount must be greater than 0")
	ErrInvalidCurrency = errors.New("currency must be a 3-letter code")
	ErrAmountMismatch  = errors.New("amount does not match order total")
)

// StatusCompleted is the only status the placeholder processor reports.
const StatusCompleted = "completed"

// Estimator computes the server total for a subtotal.
type Estimator interface {
	Estimate(ctx context.Context, req pricing.EstimateRequest) (*pricing.Quote, error)
}

// Request is a payment attempt.
type Request struct {
	UserID        string
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	CouponCode    string
	// Subtotal enables verification of Amount against the server total.
	Subtotal     decimal.NullDecimal
	DeliveryCost decimal.Decimal
	DeliveryType pricing.DeliveryType
	DeliveryZone string
	Weight       decimal.Decimal
}

// Result is a processed payment.
type Result struct {
	Success       bool
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Status        string
}

// Processor validates and records payments.
type Processor struct {
	estimator Estimator
}

// NewProcessor creates a Processor.
func NewProcessor(estimator Estimator) *Processor {
	return &Processor{estimator: estimator}
}

// Process validates the request and returns a placeholder transaction.
func (p *Processor) Process(ctx context.Context, req Request) (*Result, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if !validCurrency(currency) {
		return nil, ErrInvalidCurrency
	}

	if req.Subtotal.Valid {
		q, err := p.estimator.Estimate(ctx, pricing.EstimateRequest{
			UserID:       req.UserID,
			CouponCode:   req.CouponCode,
			Subtotal:     req.Subtotal.Decimal,
			DeliveryType: req.DeliveryType,
			DeliveryZone: req.DeliveryZone,
			Weight:       req.Weight,
			DeliveryCost: req.DeliveryCost,
		})
		if err != nil {
			return nil, err
		}
		if req.Amount.Sub(q.Total).Abs().GreaterThan(pricing.Tolerance) {
			zctx.From(ctx).Warn("Payment amount mismatch",
				zap.String("user_id", req.UserID),
				zap.Stringer("amount", req.Amount),
				zap.Stringer("server_total", q.Total),
			)
			return nil, ErrAmountMismatch
		}
	}

	return &Result{
		Success:       true,
		TransactionID: "txn_" + uuid.New().String(),
		Amount:        pricing.Round2(req.Amount),
		Currency:      currency,
		Status:        StatusCompleted,
	}, nil
}

func validCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
