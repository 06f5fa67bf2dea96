package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

// identity is set by Authenticator.Middleware on every API route.
func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

// CreateOrder handles POST /orders/create. All amounts are recomputed on the
// server; the stored total is returned so the client can show it.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	o, err := h.orders.Create(r.Context(), req.domain(identity(r).UserID))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{
		ID:      o.ID,
		Message: "order created",
		Total:   money(o.Total),
	})
}

// MyOrders handles GET /orders/my-orders.
func (h *Handler) MyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListMine(r.Context(), identity(r).UserID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrders(orders))
}

// ListOrders handles GET /orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, false)
}

// ListArchivedOrders handles GET /orders/archived.
func (h *Handler) ListArchivedOrders(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, true)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, archived bool) {
	orders, err := h.orders.List(r.Context(), archived)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrders(orders))
}

// PatchOrder handles PATCH /orders/{id}.
func (h *Handler) PatchOrder(w http.ResponseWriter, r *http.Request) {
	var req patchOrderRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	o, err := h.orders.Patch(r.Context(), chi.URLParam(r, "id"), req.domain())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

// ArchiveOrder handles POST /orders/{id}/archive.
func (h *Handler) ArchiveOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.orders.Archive(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createdResponse{ID: id, Message: "order archived"})
}
