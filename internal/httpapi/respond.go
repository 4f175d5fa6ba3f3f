package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/safar/order-settlement/internal/database"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode JSON response", slog.Any("error", err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// statusFor maps a stable error code onto an HTTP status.
func statusFor(code string) int {
	switch code {
	case "INVALID_REQUEST", "INSUFFICIENT_STOCK", "PROMOTION_INVALID", "PROMOTION_EXHAUSTED":
		return http.StatusBadRequest
	case "ORDER_NOT_FOUND", "SKU_NOT_FOUND", "CUSTOMER_NOT_FOUND", "ADDRESS_NOT_FOUND",
		"PROMOTION_NOT_FOUND", "PLACEHOLDER_NOT_FOUND":
		return http.StatusNotFound
	case "ORDER_NOT_CANCELLABLE", "ORDER_NOT_EDITABLE", "INVALID_TRANSITION",
		"ORDER_NOT_AWAITING_PAYMENT", "PAYMENT_ALREADY_EXISTS", "ALREADY_EXISTS", "LOCK_TIMEOUT",
		"PRODUCT_NOT_ENOUGH_AT_SETTLEMENT":
		return http.StatusConflict
	case "GATEWAY_UNAVAILABLE":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a domain error. Server-side failures get a generic
// message; the detail goes to the log only.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := database.Code(err)
	status := statusFor(code)

	switch {
	case errors.Is(err, database.ErrStockNotEnoughAtSettlement):
		h.logger.ErrorContext(r.Context(), "stock drifted below reservations at settlement",
			slog.String("order_id", chi.URLParam(r, "id")),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		respondError(w, status, code, err.Error())
	case status == http.StatusBadGateway:
		h.logger.WarnContext(r.Context(), "gateway call failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		respondError(w, status, code, "payment gateway unavailable, retry later")
	case status >= http.StatusInternalServerError:
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("code", code),
			slog.Any("error", err))
		respondError(w, status, code, "internal error")
	default:
		respondError(w, status, code, err.Error())
	}
}
