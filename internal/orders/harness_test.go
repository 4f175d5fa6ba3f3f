package orders_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/safar/order-settlement/internal/gateway"
	"github.com/safar/order-settlement/internal/memstore"
	"github.com/safar/order-settlement/internal/mocks"
	"github.com/safar/order-settlement/internal/models"
	"github.com/safar/order-settlement/internal/orders"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type harness struct {
	ctx      context.Context
	svc      *orders.Service
	store    *memstore.Store
	gw       *mocks.MockGateway
	notifier *mocks.MockNotifier
	now      time.Time

	customer *models.Customer
	address  *models.Address
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		ctx:      context.Background(),
		store:    memstore.New(),
		gw:       &mocks.MockGateway{},
		notifier: &mocks.MockNotifier{},
		now:      time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	h.notifier.On("OrderStatusChanged", mock.Anything, mock.Anything).Return().Maybe()
	h.notifier.On("PromotionGranted", mock.Anything, mock.Anything).Return().Maybe()

	h.svc = orders.NewService(h.store, h.gw, h.notifier, orders.Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return h.now },
	})

	var err error
	h.customer, err = h.svc.CreateCustomer(h.ctx, "buyer@example.com", "Buyer")
	require.NoError(t, err)
	h.address, err = h.svc.CreateAddress(h.ctx, h.customer.ID, "12 Le Loi, District 1")
	require.NoError(t, err)

	return h
}

func (h *harness) acceptIntents() {
	h.gw.On("CreateIntent", mock.Anything, mock.Anything).
		Return(&gateway.Intent{PayURL: "https://pay.example/checkout"}, nil).Maybe()
}

func (h *harness) gatewayReports(orderID string, code int) {
	h.gw.On("QueryStatus", mock.Anything, orderID).
		Return(&gateway.Status{OrderID: orderID, ResultCode: code}, nil)
}

func (h *harness) newSKU(t *testing.T, price int64, stock int) *models.SKU {
	t.Helper()
	sku, err := h.svc.CreateSKU(h.ctx, "Item", price, stock)
	require.NoError(t, err)
	return sku
}

func (h *harness) sku(t *testing.T, id string) *models.SKU {
	t.Helper()
	sku, err := h.svc.GetSKU(h.ctx, id)
	require.NoError(t, err)
	return sku
}

func (h *harness) newPromotion(t *testing.T, code string, kind models.DiscountType, value int64, limit *int) *models.Promotion {
	t.Helper()
	p, err := h.svc.CreatePromotion(h.ctx, orders.PromotionInput{
		Code:          code,
		DiscountType:  kind,
		DiscountValue: value,
		UsageLimit:    limit,
		StartAt:       h.now.Add(-24 * time.Hour),
		EndAt:         h.now.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return p
}

func (h *harness) orderPromotion(t *testing.T, code string, kind models.DiscountType, value int64, limit *int) *models.Promotion {
	t.Helper()
	p := h.newPromotion(t, code, kind, value, limit)
	_, err := h.svc.GrantUserPromotion(h.ctx, h.customer.ID, p.ID)
	require.NoError(t, err)
	return p
}

func (h *harness) linePromotion(t *testing.T, skuID, code string, kind models.DiscountType, value int64, limit *int) *models.Promotion {
	t.Helper()
	p := h.newPromotion(t, code, kind, value, limit)
	_, err := h.svc.AttachProductPromotion(h.ctx, skuID, p.ID)
	require.NoError(t, err)
	return p
}

func (h *harness) remaining(t *testing.T, promotionID string) int {
	t.Helper()
	p, err := h.svc.GetPromotion(h.ctx, promotionID)
	require.NoError(t, err)
	require.NotNil(t, p.RemainingUsage)
	return *p.RemainingUsage
}

func (h *harness) request(method models.PaymentMethod, lines ...orders.LineRequest) orders.CreateOrderRequest {
	return orders.CreateOrderRequest{
		CustomerID:    h.customer.ID,
		AddressID:     h.address.ID,
		Lines:         lines,
		PaymentMethod: method,
	}
}

func (h *harness) placeOrder(t *testing.T, req orders.CreateOrderRequest) *models.Order {
	t.Helper()
	res, err := h.svc.CreateOrder(h.ctx, req)
	require.NoError(t, err)
	return res.Order
}

func (h *harness) hasPayment(t *testing.T, orderID string) bool {
	t.Helper()
	var paid bool
	err := h.store.View(h.ctx, func(tx orders.Tx) error {
		var err error
		paid, err = tx.PaymentExists(h.ctx, orderID)
		return err
	})
	require.NoError(t, err)
	return paid
}

func (h *harness) placeholder(t *testing.T, orderID string) (*models.PaymentPlaceholder, error) {
	t.Helper()
	var p *models.PaymentPlaceholder
	err := h.store.View(h.ctx, func(tx orders.Tx) error {
		var err error
		p, err = tx.GetPlaceholder(h.ctx, orderID)
		return err
	})
	return p, err
}

func line(skuID string, qty int) orders.LineRequest {
	return orders.LineRequest{SKUID: skuID, Quantity: qty}
}

func intPtr(v int) *int { return &v }

func int64Ptr(v int64) *int64 { return &v }
