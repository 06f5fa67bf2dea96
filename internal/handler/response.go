package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/failedorder"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

const maxBodyBytes = 1 << 20

var errInvalidBody = errors.New("invalid request body")

type errorResponse struct {
	Code    int    `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, name, message string) {
	writeJSON(w, status, errorResponse{Code: status, Error: name, Message: message})
}

// decode reads a single JSON object from the body.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return errors.Wrap(errInvalidBody, err.Error())
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.Wrap(errInvalidBody, "trailing data after JSON object")
	}
	return nil
}

type errorMapping struct {
	target error
	status int
	name   string
}

// clientErrors is checked in order; the first match wins.
var clientErrors = []errorMapping{
	{errInvalidBody, http.StatusBadRequest, "InvalidRequest"},
	{pricing.ErrInvalidItems, http.StatusBadRequest, "InvalidItems"},
	{pricing.ErrInvalidQuantity, http.StatusBadRequest, "InvalidQuantity"},
	{pricing.ErrInvalidPrice, http.StatusBadRequest, "InvalidPrice"},
	{pricing.ErrInvalidProduct, http.StatusBadRequest, "InvalidProduct"},
	{pricing.ErrInvalidSubtotal, http.StatusBadRequest, "InvalidSubtotal"},
	{pricing.ErrMissingDeliveryZone, http.StatusBadRequest, "MissingDeliveryZone"},
	{pricing.ErrTotalMismatch, http.StatusBadRequest, "TotalMismatch"},
	{coupon.ErrInvalidCoupon, http.StatusBadRequest, "InvalidCoupon"},
	{coupon.ErrCouponExpired, http.StatusBadRequest, "InvalidCoupon"},
	{coupon.ErrCouponUsageLimitReached, http.StatusBadRequest, "InvalidCoupon"},
	{coupon.ErrCouponAlreadyUsed, http.StatusBadRequest, "InvalidCoupon"},
	{payment.ErrInvalidAmount, http.StatusBadRequest, "InvalidAmount"},
	{payment.ErrInvalidCurrency, http.StatusBadRequest, "InvalidCurrency"},
	{payment.ErrAmountMismatch, http.StatusBadRequest, "AmountMismatch"},
	{failedorder.ErrInvalidRecord, http.StatusBadRequest, "InvalidFailedOrder"},
	{failedorder.ErrConflict, http.StatusConflict, "TransactionConflict"},
	{failedorder.ErrRateLimited, http.StatusTooManyRequests, "RateLimited"},
	{failedorder.ErrNotFound, http.StatusNotFound, "NotFound"},
	{failedorder.ErrInvalidStatus, http.StatusConflict, "InvalidTransition"},
	{failedorder.ErrConcurrentUpdate, http.StatusConflict, "ConcurrentUpdate"},
	{order.ErrNotFound, http.StatusNotFound, "NotFound"},
	{order.ErrInvalidTransition, http.StatusConflict, "InvalidTransition"},
	{order.ErrConcurrentUpdate, http.StatusConflict, "ConcurrentUpdate"},
}

// respondError maps domain errors to client responses. Anything unknown is
// logged and answered with a generic 500.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range clientErrors {
		if errors.Is(err, m.target) {
			writeError(w, m.status, m.name, err.Error())
			return
		}
	}
	zctx.From(r.Context()).Error("Request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "InternalError", "internal server error")
}
