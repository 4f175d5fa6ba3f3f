package orders_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/safar/order-settlement/internal/database"
	"github.com/safar/order-settlement/internal/gateway"
	"github.com/safar/order-settlement/internal/models"
	"github.com/safar/order-settlement/internal/notify"
	"github.com/safar/order-settlement/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestPollSettlementSuccess(t *testing.T) {
	h := newHarness(t)
	h.acceptIntents()
	sku := h.newSKU(t, 300, 5)

	order := h.placeOrder(t, h.request(models.PaymentMethodGateway, line(sku.ID, 2)))
	h.gatewayReports(order.ID, gateway.ResultSuccess)

	res, err := h.svc.PollSettlement(h.ctx, order.ID, false)
	require.NoError(t, err)
	assert.Equal(t, orders.OutcomeSettled, res.Outcome)
	assert.Equal(t, gateway.ResultSuccess, res.ResultCode)

	after := h.sku(t, sku.ID)
	assert.Equal(t, 3, after.Stock)
	assert.Equal(t, 3, after.Available)
	assert.Equal(t, 2, after.Sold)

	settled, err := h.svc.GetOrder(h.ctx, h.customer.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, settled.Status)
	assert.Nil(t, settled.ExpiresAt)
	assert.True(t, h.hasPayment(t, order.ID))

	_, err = h.placeholder(t, order.ID)
	assert.ErrorIs(t, err, database.ErrPlaceholderNotFound)

	changes := h.notifier.StatusChanges()
	require.NotEmpty(t, changes)
	last := changes[len(changes)-1]
	assert.Equal(t, models.OrderStatusCompleted, last.Status)
	assert.Equal(t, notify.InitiatorGateway, last.Initiator)
}

func TestPollSettlementTwiceSettlesOnce(t *testing.T) {
	h := newHarness(t)
	h.acceptIntents()
	sku := h.newSKU(t, 300, 5)

	order := h.placeOrder(t, h.request(models.PaymentMethodGateway, line(sku.ID, 2)))
	h.gatewayReports(order.ID, gateway.ResultSuccess)

	_, err := h.svc.PollSettlement(h.ctx, order.ID, false)
	require.NoError(t, err)

	_, err = h.svc.PollSettlement(h.ctx, order.ID, false)
	assert.ErrorIs(t, err, database.ErrPaymentAlreadyExists)

	after := h.sku(t, sku.ID)
	assert.Equal(t, 3, after.Stock, "stock must be committed exactly once")
	assert.Equal(t, 2, after.Sold)

	completed := 0
	for _, ev := range h.notifier.StatusChanges() {
		if ev.Status == models.OrderStatusCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
}

func TestPollSettlementStillPending(t *testing.T) {
	h := newHarness(t)
	h.acceptIntents()
	sku := h.newSKU(t, 300, 5)

	order := h.placeOrder(t, h.request(models.PaymentMethodGateway, line(sku.ID, 1)))
	h.gatewayReports(order.ID, 1000)

	res, err := h.svc.PollSettlement(h.ctx, order.ID, false)
	require.NoError(t, err)
	assert.Equal(t, orders.OutcomePending, res.Outcome)
	assert.Equal(t, 1000, res.ResultCode)

	got, err := h.svc.GetOrder(h.ctx, "", order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status)
	assert.Equal(t, 4, h.sku(t, sku.ID).Available)
}

func TestPollSettlementSuccessWinsOverCancel(t *testing.T) {
	h := newHarness(t)
	h.acceptIntents()
	sku := h.newSKU(t, 300, 5)

	order := h.placeOrder(t, h.request(models.PaymentMethodGateway, line(sku.ID, 1)))
	h.gatewayReports(order.ID, gateway.ResultSuccess)

	res, err := h.svc.PollSettlement(h.ctx, order.ID, true)
	require.NoError(t, err)
	assert.Equal(t, orders.OutcomeSettled, res.Outcome)
	assert.True(t, h.hasPayment(t, order.ID))
}

// Every rollback trigger must hand back the exact reservation and promotion
// usage that assembly took.
func TestRollbackRestoresResources(t *testing.T) {
	triggers := []struct {
		name      string
		initiator notify.Initiator
		run       func(t *testing.T, h *harness, orderID string)
	}{
		{
			name:      "client cancel",
			initiator: notify.InitiatorCustomer,
			run: func(t *testing.T, h *harness, orderID string) {
				h.gatewayReports(orderID, 1000)
				res, err := h.svc.PollSettlement(h.ctx, orderID, true)
				require.NoError(t, err)
				assert.Equal(t, orders.OutcomeRolledBack, res.Outcome)
			},
		},
		{
			name:      "gateway buyer cancel",
			initiator: notify.InitiatorGateway,
			run: func(t *testing.T, h *harness, orderID string) {
				h.gatewayReports(orderID, gateway.ResultBuyerCanceled)
				res, err := h.svc.PollSettlement(h.ctx, orderID, false)
				require.NoError(t, err)
				assert.Equal(t, orders.OutcomeRolledBack, res.Outcome)
			},
		},
		{
			name:      "sweeper expiry",
			initiator: notify.InitiatorSweeper,
			run: func(t *testing.T, h *harness, orderID string) {
				h.now = h.now.Add(3 * time.Minute)
				n, err := h.svc.ReclaimExpired(h.ctx)
				require.NoError(t, err)
				assert.Equal(t, 1, n)
			},
		},
	}

	for _, tt := range triggers {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.acceptIntents()
			shirt := h.newSKU(t, 200, 10)
			hat := h.newSKU(t, 80, 4)
			linePromo := h.linePromotion(t, shirt.ID, "LINE", models.DiscountFixed, 20, intPtr(5))
			orderPromo := h.orderPromotion(t, "ORDER", models.DiscountPercentage, 5, intPtr(5))

			req := h.request(models.PaymentMethodGateway,
				orders.LineRequest{SKUID: shirt.ID, Quantity: 3, PromotionID: linePromo.ID},
				line(hat.ID, 4),
			)
			req.PromotionID = orderPromo.ID
			order := h.placeOrder(t, req)

			require.Equal(t, 7, h.sku(t, shirt.ID).Available)
			require.Equal(t, 0, h.sku(t, hat.ID).Available)
			require.Equal(t, 4, h.remaining(t, linePromo.ID))
			require.Equal(t, 4, h.remaining(t, orderPromo.ID))

			tt.run(t, h, order.ID)

			assert.Equal(t, 10, h.sku(t, shirt.ID).Available)
			assert.Equal(t, 4, h.sku(t, hat.ID).Available)
			assert.Equal(t, 5, h.remaining(t, linePromo.ID))
			assert.Equal(t, 5, h.remaining(t, orderPromo.ID))

			_, err := h.svc.GetOrder(h.ctx, "", order.ID)
			assert.ErrorIs(t, err, database.ErrOrderNotFound)
			_, err = h.placeholder(t, order.ID)
			assert.ErrorIs(t, err, database.ErrPlaceholderNotFound)

			changes := h.notifier.StatusChanges()
			last := changes[len(changes)-1]
			assert.True(t, last.Removed)
			assert.Equal(t, models.OrderStatusCanceled, last.Status)
			assert.Equal(t, tt.initiator, last.Initiator)
		})
	}
}

func TestPollSettlementAfterRollbackIsNoop(t *testing.T) {
	h := newHarness(t)
	h.acceptIntents()
	sku := h.newSKU(t, 300, 5)

	order := h.placeOrder(t, h.request(models.PaymentMethodGateway, line(sku.ID, 1)))
	h.gatewayReports(order.ID, gateway.ResultBuyerCanceled)

	_, err := h.svc.PollSettlement(h.ctx, order.ID, false)
	require.NoError(t, err)

	res, err := h.svc.PollSettlement(h.ctx, order.ID, true)
	require.NoError(t, err)
	assert.Equal(t, orders.OutcomeAlreadyReconciled, res.Outcome)
	assert.Equal(t, 5, h.sku(t, sku.ID).Available)
	h.gw.AssertNumberOfCalls(t, "QueryStatus", 1)
}

func TestPollSettlementGatewayUnavailable(t *testing.T) {
	h := newHarness(t)
	h.acceptIntents()
	sku := h.newSKU(t, 300, 5)

	order := h.placeOrder(t, h.request(models.PaymentMethodGateway, line(sku.ID, 1)))
	h.gw.On("QueryStatus", mock.Anything, order.ID).Return(nil, errors.New("timeout"))

	_, err := h.svc.PollSettlement(h.ctx, order.ID, true)
	assert.ErrorIs(t, err, database.ErrGatewayUnavailable)

	got, err := h.svc.GetOrder(h.ctx, "", order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status)
	assert.Equal(t, 4, h.sku(t, sku.ID).Available)
}

func TestPollSettlementMissingPlaceholder(t *testing.T) {
	h := newHarness(t)
	h.acceptIntents()
	sku := h.newSKU(t, 300, 5)

	order := h.placeOrder(t, h.request(models.PaymentMethodGateway, line(sku.ID, 1)))
	err := h.store.InTx(h.ctx, func(tx orders.Tx) error {
		_, err := tx.DeletePlaceholder(h.ctx, order.ID)
		return err
	})
	require.NoError(t, err)

	_, err = h.svc.PollSettlement(h.ctx, order.ID, false)
	assert.ErrorIs(t, err, database.ErrIntegrityViolation)
	assert.Equal(t, "INTEGRITY_VIOLATION", database.Code(err))
	h.gw.AssertNotCalled(t, "QueryStatus", mock.Anything, mock.Anything)
}

func TestPollSettlementOnDeliveryOrder(t *testing.T) {
	h := newHarness(t)
	sku := h.newSKU(t, 300, 5)

	order := h.placeOrder(t, h.request(models.PaymentMethodOnDelivery, line(sku.ID, 1)))

	_, err := h.svc.PollSettlement(h.ctx, order.ID, false)
	assert.ErrorIs(t, err, database.ErrOrderNotAwaitingPayment)
}

func TestPaymentForCanceledOrderIsRefused(t *testing.T) {
	h := newHarness(t)
	h.acceptIntents()
	sku := h.newSKU(t, 300, 5)

	order := h.placeOrder(t, h.request(models.PaymentMethodGateway, line(sku.ID, 1)))
	_, err := h.svc.CancelOrder(h.ctx, h.customer.ID, order.ID, "changed my mind")
	require.NoError(t, err)

	h.gatewayReports(order.ID, gateway.ResultSuccess)
	_, err = h.svc.PollSettlement(h.ctx, order.ID, false)
	assert.ErrorIs(t, err, database.ErrInvalidTransition)
	assert.False(t, h.hasPayment(t, order.ID))
	assert.Equal(t, 5, h.sku(t, sku.ID).Stock)
}

func TestReclaimExpiredLeavesFreshOrders(t *testing.T) {
	h := newHarness(t)
	h.acceptIntents()
	sku := h.newSKU(t, 100, 10)
	promo := h.orderPromotion(t, "SWEEP", models.DiscountFixed, 10, intPtr(2))

	req := h.request(models.PaymentMethodGateway, line(sku.ID, 3))
	req.PromotionID = promo.ID
	stale := h.placeOrder(t, req)

	h.now = h.now.Add(time.Minute)
	fresh := h.placeOrder(t, h.request(models.PaymentMethodGateway, line(sku.ID, 2)))

	h.now = h.now.Add(90 * time.Second)
	n, err := h.svc.ReclaimExpired(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = h.svc.GetOrder(h.ctx, "", stale.ID)
	assert.ErrorIs(t, err, database.ErrOrderNotFound)
	_, err = h.svc.GetOrder(h.ctx, "", fresh.ID)
	assert.NoError(t, err)

	assert.Equal(t, 8, h.sku(t, sku.ID).Available)
	assert.Equal(t, 2, h.remaining(t, promo.ID))

	n, err = h.svc.ReclaimExpired(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeperRacesClientCancel(t *testing.T) {
	h := newHarness(t)
	h.acceptIntents()
	sku := h.newSKU(t, 100, 10)

	order := h.placeOrder(t, h.request(models.PaymentMethodGateway, line(sku.ID, 4)))
	h.gatewayReports(order.ID, 1000)
	h.now = h.now.Add(3 * time.Minute)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := h.svc.ReclaimExpired(h.ctx)
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := h.svc.PollSettlement(h.ctx, order.ID, true)
		errs <- err
	}()
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 10, h.sku(t, sku.ID).Available, "units must be released exactly once")
}

// stepStore runs next once, right after the following View returns and before
// the caller opens its unit of work.
type stepStore struct {
	orders.Store
	next func()
}

func (s *stepStore) View(ctx context.Context, fn func(tx orders.Tx) error) error {
	err := s.Store.View(ctx, fn)
	if next := s.next; next != nil {
		s.next = nil
		next()
	}
	return err
}

// interleaved returns a service sharing h's state whose next read is followed
// by step.
func (h *harness) interleaved(step func()) *orders.Service {
	st := &stepStore{Store: h.store, next: step}
	return orders.NewService(st, h.gw, h.notifier, orders.Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return h.now },
	})
}

func TestSweeperFindsOrderSettledAfterListing(t *testing.T) {
	h := newHarness(t)
	h.acceptIntents()
	sku := h.newSKU(t, 100, 10)

	order := h.placeOrder(t, h.request(models.PaymentMethodGateway, line(sku.ID, 4)))
	h.gatewayReports(order.ID, gateway.ResultSuccess)
	h.now = h.now.Add(3 * time.Minute)

	sweeper := h.interleaved(func() {
		res, err := h.svc.PollSettlement(h.ctx, order.ID, false)
		require.NoError(t, err)
		require.Equal(t, orders.OutcomeSettled, res.Outcome)
	})

	n, err := sweeper.ReclaimExpired(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := h.svc.GetOrder(h.ctx, "", order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, got.Status)
	assert.True(t, h.hasPayment(t, order.ID))

	s := h.sku(t, sku.ID)
	assert.Equal(t, 6, s.Stock)
	assert.Equal(t, 6, s.Available)
	assert.Equal(t, 4, s.Sold)
}

func TestSweeperFindsOrderCanceledAfterListing(t *testing.T) {
	h := newHarness(t)
	h.acceptIntents()
	sku := h.newSKU(t, 100, 10)

	order := h.placeOrder(t, h.request(models.PaymentMethodGateway, line(sku.ID, 4)))
	h.now = h.now.Add(3 * time.Minute)

	sweeper := h.interleaved(func() {
		_, err := h.svc.CancelOrder(h.ctx, h.customer.ID, order.ID, "too slow")
		require.NoError(t, err)
	})

	n, err := sweeper.ReclaimExpired(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := h.svc.GetOrder(h.ctx, "", order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCanceled, got.Status)
	assert.Equal(t, 10, h.sku(t, sku.ID).Available, "units must be released exactly once")
}

func TestPollWithCancelAfterCustomerCancel(t *testing.T) {
	h := newHarness(t)
	h.acceptIntents()
	sku := h.newSKU(t, 100, 10)

	order := h.placeOrder(t, h.request(models.PaymentMethodGateway, line(sku.ID, 4)))
	_, err := h.svc.CancelOrder(h.ctx, h.customer.ID, order.ID, "")
	require.NoError(t, err)

	h.gatewayReports(order.ID, 1000)
	res, err := h.svc.PollSettlement(h.ctx, order.ID, true)
	require.NoError(t, err)
	assert.Equal(t, orders.OutcomeAlreadyReconciled, res.Outcome)
	assert.Equal(t, 10, h.sku(t, sku.ID).Available)

	got, err := h.svc.GetOrder(h.ctx, "", order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCanceled, got.Status)
}

func TestPaymentForOrderReclaimedMidPoll(t *testing.T) {
	h := newHarness(t)
	h.acceptIntents()
	sku := h.newSKU(t, 100, 10)

	order := h.placeOrder(t, h.request(models.PaymentMethodGateway, line(sku.ID, 2)))
	h.gatewayReports(order.ID, gateway.ResultSuccess)

	poller := h.interleaved(func() {
		h.now = h.now.Add(3 * time.Minute)
		n, err := h.svc.ReclaimExpired(h.ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})

	_, err := poller.PollSettlement(h.ctx, order.ID, false)
	assert.ErrorIs(t, err, database.ErrIntegrityViolation)
	assert.False(t, h.hasPayment(t, order.ID))
	assert.Equal(t, 10, h.sku(t, sku.ID).Stock)
}
