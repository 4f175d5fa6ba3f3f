package orders_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/safar/order-settlement/internal/database"
	"github.com/safar/order-settlement/internal/gateway"
	"github.com/safar/order-settlement/internal/models"
	"github.com/safar/order-settlement/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateOrderReservesStock(t *testing.T) {
	h := newHarness(t)
	sku := h.newSKU(t, 100, 5)

	order := h.placeOrder(t, h.request(models.PaymentMethodOnDelivery, line(sku.ID, 5)))
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.EqualValues(t, 500, order.Amount)
	assert.Equal(t, 0, h.sku(t, sku.ID).Available)
	assert.Equal(t, 5, h.sku(t, sku.ID).Stock)

	_, err := h.svc.CreateOrder(h.ctx, h.request(models.PaymentMethodOnDelivery, line(sku.ID, 1)))
	assert.ErrorIs(t, err, database.ErrInsufficientStock)
	assert.Equal(t, 0, h.sku(t, sku.ID).Available)
}

func TestCreateOrderPercentagePromotionIsCapped(t *testing.T) {
	h := newHarness(t)
	sku := h.newSKU(t, 500, 10)

	promo, err := h.svc.CreatePromotion(h.ctx, orders.PromotionInput{
		Code:          "TEN-OFF",
		DiscountType:  models.DiscountPercentage,
		DiscountValue: 10,
		MaxValue:      int64Ptr(20),
		UsageLimit:    intPtr(5),
		StartAt:       h.now.Add(-time.Hour),
		EndAt:         h.now.Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = h.svc.GrantUserPromotion(h.ctx, h.customer.ID, promo.ID)
	require.NoError(t, err)

	req := h.request(models.PaymentMethodOnDelivery, line(sku.ID, 1))
	req.PromotionID = promo.ID
	order := h.placeOrder(t, req)

	assert.EqualValues(t, 20, order.OrderDiscount)
	assert.EqualValues(t, 480, order.Amount)
	require.NotNil(t, order.PromotionID)
	assert.Equal(t, promo.ID, *order.PromotionID)
	assert.Equal(t, 4, h.remaining(t, promo.ID))
}

func TestCreateOrderLineAndOrderPromotions(t *testing.T) {
	h := newHarness(t)
	shirt := h.newSKU(t, 200, 10)
	hat := h.newSKU(t, 100, 10)

	linePromo := h.linePromotion(t, shirt.ID, "SHIRT-50", models.DiscountFixed, 50, intPtr(3))
	orderPromo := h.orderPromotion(t, "ORDER-10PCT", models.DiscountPercentage, 10, nil)

	req := h.request(models.PaymentMethodOnDelivery,
		orders.LineRequest{SKUID: shirt.ID, Quantity: 2, PromotionID: linePromo.ID},
		line(hat.ID, 1),
	)
	req.PromotionID = orderPromo.ID
	order := h.placeOrder(t, req)

	// 2 x 150 + 1 x 100 = 400, then 10% off the subtotal.
	require.Len(t, order.Lines, 2)
	assert.EqualValues(t, 400, order.Subtotal())
	assert.EqualValues(t, 40, order.OrderDiscount)
	assert.EqualValues(t, 360, order.Amount)

	for _, l := range order.Lines {
		if l.SKUID == shirt.ID {
			assert.EqualValues(t, 200, l.OriginalPrice)
			assert.EqualValues(t, 150, l.SettledPrice)
			require.NotNil(t, l.PromotionID)
		} else {
			assert.EqualValues(t, 100, l.SettledPrice)
			assert.Nil(t, l.PromotionID)
		}
	}

	assert.Equal(t, 2, h.remaining(t, linePromo.ID))
}

func TestCreateOrderRejectsInvalidPromotion(t *testing.T) {
	h := newHarness(t)
	sku := h.newSKU(t, 100, 10)

	notGranted := h.newPromotion(t, "NOT-GRANTED", models.DiscountFixed, 10, intPtr(5))

	expired, err := h.svc.CreatePromotion(h.ctx, orders.PromotionInput{
		Code:          "EXPIRED",
		DiscountType:  models.DiscountFixed,
		DiscountValue: 10,
		StartAt:       h.now.Add(-48 * time.Hour),
		EndAt:         h.now.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = h.svc.GrantUserPromotion(h.ctx, h.customer.ID, expired.ID)
	require.NoError(t, err)

	minimum, err := h.svc.CreatePromotion(h.ctx, orders.PromotionInput{
		Code:          "BIG-SPENDER",
		DiscountType:  models.DiscountFixed,
		DiscountValue: 10,
		MinOrderValue: 1000,
		StartAt:       h.now.Add(-time.Hour),
		EndAt:         h.now.Add(time.Hour),
	})
	require.NoError(t, err)
	_, err = h.svc.GrantUserPromotion(h.ctx, h.customer.ID, minimum.ID)
	require.NoError(t, err)

	exhausted := h.orderPromotion(t, "USED-UP", models.DiscountFixed, 10, intPtr(0))

	tests := []struct {
		name        string
		promotionID string
		want        error
	}{
		{name: "not granted to customer", promotionID: notGranted.ID, want: database.ErrPromotionInvalid},
		{name: "outside validity window", promotionID: expired.ID, want: database.ErrPromotionInvalid},
		{name: "below minimum order value", promotionID: minimum.ID, want: database.ErrPromotionInvalid},
		{name: "unknown promotion", promotionID: "missing", want: database.ErrPromotionInvalid},
		{name: "usage exhausted", promotionID: exhausted.ID, want: database.ErrPromotionExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := h.request(models.PaymentMethodOnDelivery, line(sku.ID, 2))
			req.PromotionID = tt.promotionID

			_, err := h.svc.CreateOrder(h.ctx, req)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 10, h.sku(t, sku.ID).Available, "reservation must not survive a failed assembly")
		})
	}

	assert.Equal(t, 5, h.remaining(t, notGranted.ID))
}

func TestCreateOrderLinePromotionMustBeAttached(t *testing.T) {
	h := newHarness(t)
	shirt := h.newSKU(t, 200, 10)
	hat := h.newSKU(t, 100, 10)

	promo := h.linePromotion(t, shirt.ID, "SHIRT-ONLY", models.DiscountFixed, 50, intPtr(3))

	req := h.request(models.PaymentMethodOnDelivery,
		line(shirt.ID, 1),
		orders.LineRequest{SKUID: hat.ID, Quantity: 1, PromotionID: promo.ID},
	)
	_, err := h.svc.CreateOrder(h.ctx, req)
	assert.ErrorIs(t, err, database.ErrPromotionInvalid)

	assert.Equal(t, 10, h.sku(t, shirt.ID).Available)
	assert.Equal(t, 3, h.remaining(t, promo.ID))
}

func TestCreateOrderValidation(t *testing.T) {
	h := newHarness(t)
	sku := h.newSKU(t, 100, 10)

	other, err := h.svc.CreateCustomer(h.ctx, "other@example.com", "Other")
	require.NoError(t, err)
	otherAddress, err := h.svc.CreateAddress(h.ctx, other.ID, "1 Other Street")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*orders.CreateOrderRequest)
		want   error
	}{
		{
			name:   "no lines",
			mutate: func(r *orders.CreateOrderRequest) { r.Lines = nil },
			want:   database.ErrInvalidRequest,
		},
		{
			name:   "zero quantity",
			mutate: func(r *orders.CreateOrderRequest) { r.Lines = []orders.LineRequest{line(sku.ID, 0)} },
			want:   database.ErrInvalidRequest,
		},
		{
			name:   "duplicate sku",
			mutate: func(r *orders.CreateOrderRequest) { r.Lines = append(r.Lines, line(sku.ID, 1)) },
			want:   database.ErrInvalidRequest,
		},
		{
			name:   "unknown payment method",
			mutate: func(r *orders.CreateOrderRequest) { r.PaymentMethod = "BARTER" },
			want:   database.ErrInvalidRequest,
		},
		{
			name:   "unknown customer",
			mutate: func(r *orders.CreateOrderRequest) { r.CustomerID = "nobody" },
			want:   database.ErrCustomerNotFound,
		},
		{
			name:   "address of another customer",
			mutate: func(r *orders.CreateOrderRequest) { r.AddressID = otherAddress.ID },
			want:   database.ErrAddressNotFound,
		},
		{
			name:   "unknown sku",
			mutate: func(r *orders.CreateOrderRequest) { r.Lines = []orders.LineRequest{line("missing", 1)} },
			want:   database.ErrSKUNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := h.request(models.PaymentMethodOnDelivery, line(sku.ID, 1))
			tt.mutate(&req)

			_, err := h.svc.CreateOrder(h.ctx, req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, 10, h.sku(t, sku.ID).Available)
}

func TestCreateGatewayOrderWritesPlaceholder(t *testing.T) {
	h := newHarness(t)
	h.acceptIntents()
	sku := h.newSKU(t, 250, 4)

	res, err := h.svc.CreateOrder(h.ctx, h.request("", line(sku.ID, 2)))
	require.NoError(t, err)

	assert.Equal(t, models.PaymentMethodGateway, res.Order.PaymentMethod)
	assert.Equal(t, "https://pay.example/checkout", res.PayURL)
	require.NotNil(t, res.Order.ExpiresAt)
	assert.Equal(t, h.now.Add(orders.DefaultGracePeriod), *res.Order.ExpiresAt)

	p, err := h.placeholder(t, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/checkout", p.PayURL)
	assert.Equal(t, h.customer.ID, p.CustomerID)
	assert.NotEmpty(t, p.RequestID)

	h.gw.AssertCalled(t, "CreateIntent", mock.Anything, mock.MatchedBy(func(req gateway.IntentRequest) bool {
		return req.OrderID == res.Order.ID && req.Amount == 500 && req.RequestID == p.RequestID
	}))
}

func TestCreateOnDeliveryOrderSkipsGateway(t *testing.T) {
	h := newHarness(t)
	sku := h.newSKU(t, 250, 4)

	res, err := h.svc.CreateOrder(h.ctx, h.request(models.PaymentMethodOnDelivery, line(sku.ID, 1)))
	require.NoError(t, err)

	assert.Empty(t, res.PayURL)
	assert.Nil(t, res.Order.ExpiresAt)
	_, err = h.placeholder(t, res.Order.ID)
	assert.ErrorIs(t, err, database.ErrPlaceholderNotFound)
	h.gw.AssertNotCalled(t, "CreateIntent", mock.Anything, mock.Anything)
}

func TestCreateOrderGatewayFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	sku := h.newSKU(t, 100, 3)
	promo := h.orderPromotion(t, "FIVE-OFF", models.DiscountFixed, 5, intPtr(2))

	h.gw.On("CreateIntent", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	req := h.request(models.PaymentMethodGateway, line(sku.ID, 2))
	req.PromotionID = promo.ID
	_, err := h.svc.CreateOrder(h.ctx, req)
	assert.ErrorIs(t, err, database.ErrGatewayUnavailable)

	assert.Equal(t, 3, h.sku(t, sku.ID).Available)
	assert.Equal(t, 2, h.remaining(t, promo.ID))

	page, err := h.svc.ListOrders(h.ctx, models.OrderFilter{CustomerID: h.customer.ID}, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestConcurrentOrderCreation(t *testing.T) {
	h := newHarness(t)
	sku := h.newSKU(t, 100, 5)
	promo := h.orderPromotion(t, "FIRST-THREE", models.DiscountFixed, 10, intPtr(3))

	concurrency := 10
	var wg sync.WaitGroup
	results := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(withPromo bool) {
			defer wg.Done()

			req := h.request(models.PaymentMethodOnDelivery, line(sku.ID, 1))
			if withPromo {
				req.PromotionID = promo.ID
			}
			_, err := h.svc.CreateOrder(h.ctx, req)
			results <- err
		}(i%2 == 0)
	}

	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, database.ErrInsufficientStock) && !errors.Is(err, database.ErrPromotionExhausted) {
			t.Errorf("unexpected error: %v", err)
		}
	}

	final := h.sku(t, sku.ID)
	assert.Equal(t, 5-success, final.Available)
	assert.GreaterOrEqual(t, final.Available, 0)
	assert.GreaterOrEqual(t, h.remaining(t, promo.ID), 0)
}
