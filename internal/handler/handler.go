// Package handler exposes the checkout over JSON HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-checkout/internal/domain/failedorder"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

// OrderService is satisfied by *order.Service.
type OrderService interface {
	Create(ctx context.Context, req order.CreateRequest) (*order.Order, error)
	ListMine(ctx context.Context, userID string) ([]order.Order, error)
	List(ctx context.Context, archived bool) ([]order.Order, error)
	Patch(ctx context.Context, id string, req order.PatchRequest) (*order.Order, error)
	Archive(ctx context.Context, id string) error
}

// Estimator is satisfied by *pricing.Engine.
type Estimator interface {
	Estimate(ctx context.Context, req pricing.EstimateRequest) (*pricing.Quote, error)
}

// PaymentProcessor is satisfied by *payment.Processor.
type PaymentProcessor interface {
	Process(ctx context.Context, req payment.Request) (*payment.Result, error)
}

// FailedOrders is satisfied by *failedorder.Recorder.
type FailedOrders interface {
	Submit(ctx context.Context, req failedorder.SubmitRequest) (*failedorder.Record, bool, error)
	Review(ctx context.Context, id string, to failedorder.Status, reviewer string) (*failedorder.Record, error)
	List(ctx context.Context, status failedorder.Status) ([]failedorder.Record, error)
}

var (
	_ OrderService     = (*order.Service)(nil)
	_ Estimator        = (*pricing.Engine)(nil)
	_ PaymentProcessor = (*payment.Processor)(nil)
	_ FailedOrders     = (*failedorder.Recorder)(nil)
)

// Handler serves the order, payment and failed order endpoints.
type Handler struct {
	orders    OrderService
	estimator Estimator
	payments  PaymentProcessor
	failed    FailedOrders
	auth      *Authenticator
}

// NewHandler constructs a Handler from its domain dependencies.
func NewHandler(
	orders OrderService,
	estimator Estimator,
	payments PaymentProcessor,
	failed FailedOrders,
	authenticator *Authenticator,
) *Handler {
	return &Handler{
		orders:    orders,
		estimator: estimator,
		payments:  payments,
		failed:    failed,
		auth:      authenticator,
	}
}

// Routes returns the API router. Every route requires an API key; the back
// office routes also require the admin role.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.auth.Middleware)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/create", h.CreateOrder)
		r.Get("/my-orders", h.MyOrders)
		r.Post("/failed", h.SubmitFailedOrder)

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/", h.ListOrders)
			r.Get("/archived", h.ListArchivedOrders)
			r.Get("/failed", h.ListFailedOrders)
			r.Patch("/failed/{id}", h.ReviewFailedOrder)
			r.Patch("/{id}", h.PatchOrder)
			r.Post("/{id}/archive", h.ArchiveOrder)
		})
	})
	r.Route("/payment", func(r chi.Router) {
		r.Post("/calculate-total", h.CalculateTotal)
		r.Post("/process", h.ProcessPayment)
	})
	return r
}
