package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/safar/order-settlement/internal/models"
)

// Initiator records who triggered a status change so downstream consumers can
// pick the right copy.
type Initiator string

const (
	InitiatorCustomer Initiator = "customer"
	InitiatorAdmin    Initiator = "admin"
	InitiatorGateway  Initiator = "gateway"
	InitiatorSweeper  Initiator = "sweeper"
	InitiatorSystem   Initiator = "system"
)

const (
	EventOrderStatusChanged = "order.status_changed"
	EventPromotionGranted   = "promotion.granted"
)

type OrderStatusChanged struct {
	OrderID    string             `json:"order_id"`
	CustomerID string             `json:"customer_id"`
	Status     models.OrderStatus `json:"status"`
	// Removed is set when the order row was deleted by a payment rollback.
	Removed    bool      `json:"removed,omitempty"`
	Amount     int64     `json:"amount"`
	Reason     string    `json:"reason,omitempty"`
	Initiator  Initiator `json:"initiator"`
	OccurredAt time.Time `json:"occurred_at"`
}

type PromotionGranted struct {
	CustomerID  string    `json:"customer_id"`
	PromotionID string    `json:"promotion_id"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Notifier delivers side-effect events. Calls are fire-and-forget: they never
// return an error and must not block the caller on broker I/O.
type Notifier interface {
	OrderStatusChanged(ctx context.Context, ev OrderStatusChanged)
	PromotionGranted(ctx context.Context, ev PromotionGranted)
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func encode(eventType string, data any) ([]byte, error) {
	return json.Marshal(envelope{Type: eventType, Data: data})
}

type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) OrderStatusChanged(ctx context.Context, ev OrderStatusChanged) {
	n.logger.InfoContext(ctx, "order status changed",
		slog.String("order_id", ev.OrderID),
		slog.String("customer_id", ev.CustomerID),
		slog.String("status", string(ev.Status)),
		slog.Bool("removed", ev.Removed),
		slog.String("initiator", string(ev.Initiator)),
		slog.String("reason", ev.Reason),
	)
}

func (n *LogNotifier) PromotionGranted(ctx context.Context, ev PromotionGranted) {
	n.logger.InfoContext(ctx, "promotion granted",
		slog.String("customer_id", ev.CustomerID),
		slog.String("promotion_id", ev.PromotionID),
	)
}

type Nop struct{}

func (Nop) OrderStatusChanged(context.Context, OrderStatusChanged) {}
func (Nop) PromotionGranted(context.Context, PromotionGranted) {}
