package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/safar/order-settlement/internal/gateway"
	"github.com/safar/order-settlement/internal/models"
	"github.com/safar/order-settlement/internal/notify"
)

const (
	DefaultGracePeriod = 2 * time.Minute
	defaultSweepBatch  = 100
	maxPageSize        = 100

	AdminCancelReason = "Canceled by administrator"
)

type Config struct {
	GracePeriod time.Duration
	SweepBatch  int
	Logger      *slog.Logger
	Now         func() time.Time
}

type Service struct {
	store    Store
	gateway  gateway.Client
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
	grace    time.Duration
	batch    int
}

func NewService(store Store, gw gateway.Client, notifier notify.Notifier, cfg Config) *Service {
	s := &Service{
		store:    store,
		gateway:  gw,
		notifier: notifier,
		logger:   cfg.Logger,
		now:      cfg.Now,
		grace:    cfg.GracePeriod,
		batch:    cfg.SweepBatch,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.grace <= 0 {
		s.grace = DefaultGracePeriod
	}
	if s.batch <= 0 {
		s.batch = defaultSweepBatch
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	return s
}

func newOrderID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// releaseResources hands every reservation and promotion use held by o back
// to the ledgers. It is shared by rollback and every cancel path.
func releaseResources(ctx context.Context, tx Tx, o *models.Order) error {
	for _, l := range o.Lines {
		if err := tx.ReleaseStock(ctx, l.SKUID, l.Quantity); err != nil {
			return fmt.Errorf("release sku %s: %w", l.SKUID, err)
		}
		if l.PromotionID != nil {
			if err := tx.RestorePromotion(ctx, *l.PromotionID); err != nil {
				return fmt.Errorf("restore line promotion %s: %w", *l.PromotionID, err)
			}
		}
	}

	if o.PromotionID != nil {
		if err := tx.RestorePromotion(ctx, *o.PromotionID); err != nil {
			return fmt.Errorf("restore order promotion %s: %w", *o.PromotionID, err)
		}
	}

	return nil
}

func commitResources(ctx context.Context, tx Tx, o *models.Order) error {
	for _, l := range o.Lines {
		if err := tx.CommitStock(ctx, l.SKUID, l.Quantity); err != nil {
			return fmt.Errorf("commit sku %s for order %s: %w", l.SKUID, o.ID, err)
		}
	}
	return nil
}

func (s *Service) statusChanged(ctx context.Context, o *models.Order, initiator notify.Initiator, removed bool) {
	s.notifier.OrderStatusChanged(ctx, notify.OrderStatusChanged{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Status:     o.Status,
		Removed:    removed,
		Amount:     o.Amount,
		Reason:     o.CancelReason,
		Initiator:  initiator,
		OccurredAt: s.now(),
	})
}
