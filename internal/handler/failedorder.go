package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-checkout/internal/domain/failedorder"
)

// SubmitFailedOrder handles POST /orders/failed. A new record answers 201,
// a resubmission by the same user answers 200.
func (h *Handler) SubmitFailedOrder(w http.ResponseWriter, r *http.Request) {
	var req failedOrderRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	rec, created, err := h.failed.Submit(r.Context(), failedorder.SubmitRequest{
		UserID:        identity(r).UserID,
		TransactionID: req.TransactionID,
		OrderData:     req.OrderData,
		Comment:       req.Error,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	status, msg := http.StatusCreated, "failed order recorded"
	if !created {
		status, msg = http.StatusOK, "failed order updated"
	}
	writeJSON(w, status, createdResponse{
		ID:            rec.ID,
		Message:       msg,
		TransactionID: rec.TransactionID,
	})
}

// ListFailedOrders handles GET /orders/failed?status=.
func (h *Handler) ListFailedOrders(w http.ResponseWriter, r *http.Request) {
	recs, err := h.failed.List(r.Context(), failedorder.Status(r.URL.Query().Get("status")))
	if err != nil {
		respondError(w, r, err)
		return
	}
	out := make([]failedOrderResponse, len(recs))
	for i := range recs {
		out[i] = toFailedOrder(&recs[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// ReviewFailedOrder handles PATCH /orders/failed/{id}.
func (h *Handler) ReviewFailedOrder(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	rec, err := h.failed.Review(r.Context(), chi.URLParam(r, "id"),
		failedorder.Status(req.Status), identity(r).UserID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFailedOrder(rec))
}
