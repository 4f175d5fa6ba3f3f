package mocks

import (
	"context"

	"github.com/safar/order-settlement/internal/gateway"
	"github.com/safar/order-settlement/internal/notify"
	"github.com/stretchr/testify/mock"
)

type MockGateway struct {
	mock.Mock
}

type MockNotifier struct {
	mock.Mock
}

var (
	_ gateway.Client  = (*MockGateway)(nil)
	_ notify.Notifier = (*MockNotifier)(nil)
)

func (m *MockGateway) CreateIntent(ctx context.Context, req gateway.IntentRequest) (*gateway.Intent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Intent), args.Error(1)
}

func (m *MockGateway) QueryStatus(ctx context.Context, orderID string) (*gateway.Status, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Status), args.Error(1)
}

func (m *MockNotifier) OrderStatusChanged(ctx context.Context, ev notify.OrderStatusChanged) {
	m.Called(ctx, ev)
}

func (m *MockNotifier) PromotionGranted(ctx context.Context, ev notify.PromotionGranted) {
	m.Called(ctx, ev)
}

// StatusChanges returns the OrderStatusChanged events recorded so far.
func (m *MockNotifier) StatusChanges() []notify.OrderStatusChanged {
	var out []notify.OrderStatusChanged
	for _, call := range m.Calls {
		if call.Method == "OrderStatusChanged" {
			out = append(out, call.Arguments.Get(1).(notify.OrderStatusChanged))
		}
	}
	return out
}
