package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/safar/order-settlement/internal/database"
	"github.com/safar/order-settlement/internal/models"
	"github.com/safar/order-settlement/internal/orders"
)

type createCustomerRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type createAddressRequest struct {
	Line string `json:"line"`
}

type createSKURequest struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
	Stock int    `json:"stock"`
}

type createPromotionRequest struct {
	Code          string              `json:"code"`
	DiscountType  models.DiscountType `json:"discount_type"`
	DiscountValue int64               `json:"discount_value"`
	MaxValue      *int64              `json:"max_value"`
	MinOrderValue int64               `json:"min_order_value"`
	UsageLimit    *int                `json:"usage_limit"`
	StartAt       time.Time           `json:"start_at"`
	EndAt         time.Time           `json:"end_at"`
}

type grantRequest struct {
	CustomerID string `json:"customer_id"`
}

type attachRequest struct {
	SKUID string `json:"sku_id"`
}

type orderLineRequest struct {
	SKUID       string `json:"sku_id"`
	Quantity    int    `json:"quantity"`
	PromotionID string `json:"promotion_id"`
}

type createOrderRequest struct {
	AddressID     string               `json:"address_id"`
	Lines         []orderLineRequest   `json:"lines"`
	PromotionID   string               `json:"promotion_id"`
	Note          string               `json:"note"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
}

type editOrderRequest struct {
	AddressID   *string `json:"address_id"`
	Note        *string `json:"note"`
	PromotionID *string `json:"promotion_id"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type setStatusRequest struct {
	Status models.OrderStatus `json:"status"`
	Reason string             `json:"reason"`
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req createCustomerRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.svc.CreateCustomer(r.Context(), req.Email, req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (h *Handler) createAddress(w http.ResponseWriter, r *http.Request) {
	var req createAddressRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	a, err := h.svc.CreateAddress(r.Context(), chi.URLParam(r, "id"), req.Line)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, a)
}

func (h *Handler) createSKU(w http.ResponseWriter, r *http.Request) {
	var req createSKURequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	sku, err := h.svc.CreateSKU(r.Context(), req.Name, req.Price, req.Stock)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sku)
}

func (h *Handler) getSKU(w http.ResponseWriter, r *http.Request) {
	sku, err := h.svc.GetSKU(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sku)
}

func (h *Handler) createPromotion(w http.ResponseWriter, r *http.Request) {
	var req createPromotionRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	p, err := h.svc.CreatePromotion(r.Context(), orders.PromotionInput{
		Code:          req.Code,
		DiscountType:  req.DiscountType,
		DiscountValue: req.DiscountValue,
		MaxValue:      req.MaxValue,
		MinOrderValue: req.MinOrderValue,
		UsageLimit:    req.UsageLimit,
		StartAt:       req.StartAt,
		EndAt:         req.EndAt,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (h *Handler) getPromotion(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetPromotion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handler) grantPromotion(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	g, err := h.svc.GrantUserPromotion(r.Context(), req.CustomerID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, g)
}

func (h *Handler) attachPromotion(w http.ResponseWriter, r *http.Request) {
	var req attachRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	pp, err := h.svc.AttachProductPromotion(r.Context(), req.SKUID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, pp)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	lines := make([]orders.LineRequest, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, orders.LineRequest{
			SKUID:       l.SKUID,
			Quantity:    l.Quantity,
			PromotionID: l.PromotionID,
		})
	}

	res, err := h.svc.CreateOrder(r.Context(), orders.CreateOrderRequest{
		CustomerID:    customerID(r),
		AddressID:     req.AddressID,
		Lines:         lines,
		PromotionID:   req.PromotionID,
		Note:          req.Note,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	statuses, err := statusParam(r, "status")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.list(w, r, models.OrderFilter{CustomerID: customerID(r), Statuses: statuses})
}

func (h *Handler) orderStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.OrderStatistics(r.Context(), customerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.GetOrder(r.Context(), customerID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handler) editOrder(w http.ResponseWriter, r *http.Request) {
	var req editOrderRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.EditPendingOrder(r.Context(), customerID(r), chi.URLParam(r, "id"), orders.EditOrderRequest{
		AddressID:   req.AddressID,
		Note:        req.Note,
		PromotionID: req.PromotionID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	o, err := h.svc.CancelOrder(r.Context(), customerID(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// pollSettlement is the payment return endpoint. An order the caller cannot
// see has already been reconciled from their point of view.
func (h *Handler) pollSettlement(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	cancel, err := boolParam(r, "cancel")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if _, err := h.svc.GetOrder(r.Context(), customerID(r), orderID); err != nil {
		if errors.Is(err, database.ErrOrderNotFound) {
			respondJSON(w, http.StatusOK, &orders.SettlementResult{
				OrderID: orderID,
				Outcome: orders.OutcomeAlreadyReconciled,
			})
			return
		}
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.PollSettlement(r.Context(), orderID, cancel)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) adminListOrders(w http.ResponseWriter, r *http.Request) {
	statuses, err := statusParam(r, "status")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	excluded, err := statusParam(r, "exclude_status")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.list(w, r, models.OrderFilter{
		CustomerID:      r.URL.Query().Get("customer_id"),
		Statuses:        statuses,
		ExcludeStatuses: excluded,
	})
}

func (h *Handler) adminGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.GetOrder(r.Context(), "", chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handler) adminConfirm(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.AdminConfirm(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handler) adminSetStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	o, err := h.svc.AdminSetStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, filter models.OrderFilter) {
	page, size, err := pageParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.ListOrders(r.Context(), filter, page, size)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// statusParam accepts repeated or comma separated status values.
func statusParam(r *http.Request, name string) ([]models.OrderStatus, error) {
	var out []models.OrderStatus
	for _, raw := range r.URL.Query()[name] {
		for _, v := range strings.Split(raw, ",") {
			v = strings.ToUpper(strings.TrimSpace(v))
			if v == "" {
				continue
			}
			s := models.OrderStatus(v)
			if !s.Valid() {
				return nil, fmt.Errorf("unknown order status %q: %w", v, database.ErrInvalidRequest)
			}
			out = append(out, s)
		}
	}
	return out, nil
}
