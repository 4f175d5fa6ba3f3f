package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"
)

type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitNotifier publishes events to a durable topic exchange using the event
// type as routing key.
type RabbitNotifier struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	logger   *slog.Logger
}

func NewRabbitNotifier(amqpURL, exchange string, logger *slog.Logger) (*RabbitNotifier, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &RabbitNotifier{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		logger:   logger,
	}, nil
}

func (r *RabbitNotifier) OrderStatusChanged(ctx context.Context, ev OrderStatusChanged) {
	r.publish(ctx, EventOrderStatusChanged, ev)
}

func (r *RabbitNotifier) PromotionGranted(ctx context.Context, ev PromotionGranted) {
	r.publish(ctx, EventPromotionGranted, ev)
}

func (r *RabbitNotifier) publish(ctx context.Context, eventType string, data any) {
	body, err := encode(eventType, data)
	if err != nil {
		r.logger.ErrorContext(ctx, "encode event", slog.String("type", eventType), slog.Any("error", err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.channel.Publish(r.exchange, eventType, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "rabbitmq publish failed",
			slog.String("exchange", r.exchange),
			slog.String("type", eventType),
			slog.Any("error", err))
	}
}

func (r *RabbitNotifier) Close() {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}
}
