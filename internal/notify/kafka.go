package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier queues events on an in-memory inbox drained by one goroutine,
// so publishing never waits on the brokers. When the inbox is full the event
// is dropped and logged.
type KafkaNotifier struct {
	w       messageWriter
	inbox   chan kafka.Message
	closeCh chan struct{}
	logger  *slog.Logger

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewKafkaNotifier(brokers []string, topic string, buf int, logger *slog.Logger) *KafkaNotifier {
	return newKafkaNotifier(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}, buf, logger)
}

func newKafkaNotifier(w messageWriter, buf int, logger *slog.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		w:       w,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		logger:  logger,
	}
}

// Start runs the drain loop until Close is called.
func (k *KafkaNotifier) Start() {
	go func() {
		defer close(k.closeCh)
		for m := range k.inbox {
			if err := k.w.WriteMessages(context.Background(), m); err != nil {
				k.logger.Error("kafka publish failed",
					slog.String("key", string(m.Key)),
					slog.Any("error", err))
			}
		}
		if err := k.w.Close(); err != nil {
			k.logger.Error("kafka writer close", slog.Any("error", err))
		}
	}()
}

func (k *KafkaNotifier) OrderStatusChanged(ctx context.Context, ev OrderStatusChanged) {
	k.publish(ev.OrderID, EventOrderStatusChanged, ev)
}

func (k *KafkaNotifier) PromotionGranted(ctx context.Context, ev PromotionGranted) {
	k.publish(ev.CustomerID, EventPromotionGranted, ev)
}

func (k *KafkaNotifier) publish(key, eventType string, data any) {
	value, err := encode(eventType, data)
	if err != nil {
		k.logger.Error("encode event", slog.String("type", eventType), slog.Any("error", err))
		return
	}

	msg := kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(eventType)}},
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		k.logger.Warn("kafka notifier closed, dropping event", slog.String("type", eventType), slog.String("key", key))
		return
	}

	select {
	case k.inbox <- msg:
	default:
		k.logger.Warn("kafka inbox full, dropping event", slog.String("type", eventType), slog.String("key", key))
	}
}

// Close stops accepting events, flushes what is queued and waits for the
// writer to shut down. Events published after Close are dropped.
func (k *KafkaNotifier) Close() {
	k.closeOnce.Do(func() {
		k.mu.Lock()
		k.closed = true
		close(k.inbox)
		k.mu.Unlock()
	})
	<-k.closeCh
}
