package handler

import (
	"net/http"
	"strings"

	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

const defaultCurrency = "USD"

// CalculateTotal handles POST /payment/calculate-total. It runs the same
// discount and total assembly as order creation.
func (h *Handler) CalculateTotal(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if !req.Subtotal.Valid {
		respondError(w, r, pricing.ErrInvalidSubtotal)
		return
	}

	q, err := h.estimator.Estimate(r.Context(), pricing.EstimateRequest{
		UserID:       identity(r).UserID,
		CouponCode:   req.CouponCode,
		Subtotal:     req.Subtotal.Decimal,
		DeliveryType: pricing.DeliveryType(req.DeliveryType),
		DeliveryZone: req.DeliveryZone,
		Weight:       req.TotalWeight.Decimal,
		DeliveryCost: req.DeliveryCost.Decimal,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuote(q.Totals, &q.Discount))
}

// ProcessPayment handles POST /payment/process.
func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	currency := strings.TrimSpace(req.Currency)
	if currency == "" {
		currency = defaultCurrency
	}

	res, err := h.payments.Process(r.Context(), payment.Request{
		UserID:        identity(r).UserID,
		Amount:        req.Amount.Decimal,
		Currency:      currency,
		PaymentMethod: req.PaymentMethod,
		CouponCode:    req.CouponCode,
		Subtotal:      req.Subtotal,
		DeliveryCost:  req.DeliveryCost.Decimal,
		DeliveryType:  pricing.DeliveryType(req.DeliveryType),
		DeliveryZone:  req.DeliveryZone,
		Weight:        req.TotalWeight.Decimal,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentResponse{
		Success:       res.Success,
		TransactionID: res.TransactionID,
		Amount:        money(res.Amount),
		Currency:      res.Currency,
		Status:        res.Status,
	})
}
