package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/order-settlement/internal/database"
	"github.com/safar/order-settlement/internal/orders"
)

const CustomerHeader = "X-Customer-ID"

type Handler struct {
	svc    *orders.Service
	logger *slog.Logger
}

func NewHandler(svc *orders.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

func NewRouter(h *Handler, requestTimeout time.Duration) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/customers", h.createCustomer)
	r.Post("/customers/{id}/addresses", h.createAddress)
	r.Post("/skus", h.createSKU)
	r.Get("/skus/{id}", h.getSKU)
	r.Post("/promotions", h.createPromotion)
	r.Get("/promotions/{id}", h.getPromotion)
	r.Post("/promotions/{id}/grants", h.grantPromotion)
	r.Post("/promotions/{id}/products", h.attachPromotion)

	r.Route("/orders", func(r chi.Router) {
		r.Use(requireCustomer)
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/stats", h.orderStats)
		r.Get("/{id}", h.getOrder)
		r.Patch("/{id}", h.editOrder)
		r.Post("/{id}/cancel", h.cancelOrder)
		r.Post("/{id}/settlement", h.pollSettlement)
	})

	r.Route("/admin/orders", func(r chi.Router) {
		r.Get("/", h.adminListOrders)
		r.Get("/{id}", h.adminGetOrder)
		r.Post("/{id}/confirm", h.adminConfirm)
		r.Put("/{id}/status", h.adminSetStatus)
	})

	return r
}

type customerKey struct{}

// requireCustomer takes the caller's identity from the X-Customer-ID header
// and hands it to handlers explicitly through the request context.
func requireCustomer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(CustomerHeader))
		if id == "" {
			respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "missing "+CustomerHeader+" header")
			return
		}
		ctx := context.WithValue(r.Context(), customerKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func customerID(r *http.Request) string {
	id, _ := r.Context().Value(customerKey{}).(string)
	return id
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v: %w", err, database.ErrInvalidRequest)
	}
	return nil
}

// pageParams reads the 0-based page and the page size from the query string.
func pageParams(r *http.Request) (page, size int, err error) {
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("page must be an integer: %w", database.ErrInvalidRequest)
		}
	}
	if v := q.Get("size"); v != "" {
		if size, err = strconv.Atoi(v); err != nil {
			return 0, 0, fmt.Errorf("size must be an integer: %w", database.ErrInvalidRequest)
		}
	}
	return page, size, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", name, database.ErrInvalidRequest)
	}
	return b, nil
}
