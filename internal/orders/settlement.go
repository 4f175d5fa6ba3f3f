package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/safar/order-settlement/internal/database"
	"github.com/safar/order-settlement/internal/gateway"
	"github.com/safar/order-settlement/internal/models"
	"github.com/safar/order-settlement/internal/notify"
)

type Outcome string

const (
	OutcomeSettled           Outcome = "SETTLED"
	OutcomeRolledBack        Outcome = "ROLLED_BACK"
	OutcomePending           Outcome = "PENDING"
	OutcomeAlreadyReconciled Outcome = "ALREADY_RECONCILED"
)

type SettlementResult struct {
	OrderID    string  `json:"order_id"`
	Outcome    Outcome `json:"outcome"`
	ResultCode int     `json:"result_code"`
	Message    string  `json:"message,omitempty"`
}

// PollSettlement reconciles one order against the gateway. cancel is the
// client's own request to abandon payment. A gateway success wins over cancel
// because the money has already moved.
func (s *Service) PollSettlement(ctx context.Context, orderID string, cancel bool) (*SettlementResult, error) {
	var (
		order       *models.Order
		placeholder *models.PaymentPlaceholder
	)

	err := s.store.View(ctx, func(tx Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		order = o

		p, err := tx.GetPlaceholder(ctx, orderID)
		if err != nil && !errors.Is(err, database.ErrPlaceholderNotFound) {
			return err
		}
		placeholder = p
		return nil
	})
	if errors.Is(err, database.ErrOrderNotFound) {
		return &SettlementResult{OrderID: orderID, Outcome: OutcomeAlreadyReconciled}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}

	if order.PaymentMethod != models.PaymentMethodGateway {
		return nil, fmt.Errorf("order %s: %w", orderID, database.ErrOrderNotAwaitingPayment)
	}

	if placeholder == nil && order.Status == models.OrderStatusPending {
		s.logger.ErrorContext(ctx, "pending gateway order has no payment placeholder",
			slog.String("order_id", order.ID),
			slog.String("customer_id", order.CustomerID),
			slog.String("status", string(order.Status)),
			slog.Int64("amount", order.Amount))
		return nil, fmt.Errorf("order %s: %w", orderID, database.ErrIntegrityViolation)
	}

	status, err := s.gateway.QueryStatus(ctx, orderID)
	if err != nil {
		s.logger.WarnContext(ctx, "gateway status query failed",
			slog.String("order_id", orderID),
			slog.Any("error", err))
		return nil, fmt.Errorf("order %s: %w: %v", orderID, database.ErrGatewayUnavailable, err)
	}

	result := &SettlementResult{
		OrderID:    orderID,
		ResultCode: status.ResultCode,
		Message:    status.Message,
	}

	switch {
	case status.Succeeded():
		if err := s.settle(ctx, orderID); err != nil {
			return nil, err
		}
		result.Outcome = OutcomeSettled

	case status.BuyerCanceled() || cancel:
		initiator := notify.InitiatorGateway
		if cancel && !status.BuyerCanceled() {
			initiator = notify.InitiatorCustomer
		}
		removed, err := s.rollback(ctx, orderID, rollbackOptions{initiator: initiator, reason: "payment canceled"})
		if err != nil {
			return nil, err
		}
		result.Outcome = OutcomeRolledBack
		if !removed {
			result.Outcome = OutcomeAlreadyReconciled
		}

	default:
		result.Outcome = OutcomePending
	}

	return result, nil
}

// settle converts the order's reservations into sales, records the Payment
// and completes the order. The Payment row is the double-settlement fence.
func (s *Service) settle(ctx context.Context, orderID string) error {
	var settled *models.Order

	err := s.store.InTx(ctx, func(tx Tx) error {
		settled = nil

		o, err := tx.LockOrder(ctx, orderID, false)
		if errors.Is(err, database.ErrOrderNotFound) {
			s.logger.ErrorContext(ctx, "gateway reports payment for an order that no longer exists",
				slog.String("order_id", orderID))
			return fmt.Errorf("order %s paid after removal: %w", orderID, database.ErrIntegrityViolation)
		}
		if err != nil {
			return err
		}

		paid, err := tx.PaymentExists(ctx, orderID)
		if err != nil {
			return fmt.Errorf("check payment: %w", err)
		}
		if paid {
			return fmt.Errorf("order %s: %w", orderID, database.ErrPaymentAlreadyExists)
		}

		if !models.CanSettle(o.Status) {
			s.logger.ErrorContext(ctx, "gateway reports payment for an order that is no longer pending",
				slog.String("order_id", orderID),
				slog.String("status", string(o.Status)))
			return fmt.Errorf("settle order %s from %s: %w", orderID, o.Status, database.ErrInvalidTransition)
		}

		if err := commitResources(ctx, tx, o); err != nil {
			return err
		}

		err = tx.InsertPayment(ctx, &models.Payment{
			ID:        uuid.NewString(),
			OrderID:   o.ID,
			Method:    models.PaymentMethodGateway,
			Provider:  gateway.ProviderMoMo,
			Amount:    o.Amount,
			CreatedAt: s.now(),
		})
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}

		o.Status = models.OrderStatusCompleted
		o.ExpiresAt = nil
		o.UpdatedAt = s.now()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("complete order: %w", err)
		}

		if _, err := tx.DeletePlaceholder(ctx, o.ID); err != nil {
			return fmt.Errorf("delete placeholder: %w", err)
		}

		settled = o
		return nil
	})
	if err != nil {
		return err
	}

	if settled != nil {
		s.logger.InfoContext(ctx, "order settled",
			slog.String("order_id", settled.ID),
			slog.Int64("amount", settled.Amount))
		s.statusChanged(ctx, settled, notify.InitiatorGateway, false)
	}
	return nil
}

type rollbackOptions struct {
	initiator notify.Initiator
	reason    string
	// expiredOnly skips orders whose placeholder is still within its window.
	expiredOnly bool
	// nowait skips orders currently locked by another unit of work.
	nowait bool
}

// rollback releases everything the order holds and deletes it together with
// its lines and placeholder. An order that is already gone, settled or
// canceled is a no-op; it reports whether this call removed the order.
func (s *Service) rollback(ctx context.Context, orderID string, opts rollbackOptions) (bool, error) {
	var removed *models.Order

	err := s.store.InTx(ctx, func(tx Tx) error {
		removed = nil

		o, err := tx.LockOrder(ctx, orderID, opts.nowait)
		if errors.Is(err, database.ErrOrderNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		p, err := tx.GetPlaceholder(ctx, orderID)
		if errors.Is(err, database.ErrPlaceholderNotFound) {
			// Settled or cancelled by another path after this order was picked.
			if o.Status == models.OrderStatusPending || o.Status.Terminal() {
				return nil
			}
			return fmt.Errorf("roll back order %s in %s: %w", orderID, o.Status, database.ErrOrderNotCancellable)
		}
		if err != nil {
			return err
		}

		if o.Status != models.OrderStatusPending {
			return fmt.Errorf("roll back order %s in %s: %w", orderID, o.Status, database.ErrOrderNotCancellable)
		}

		if opts.expiredOnly && !p.ExpiresAt.Before(s.now()) {
			return nil
		}

		if err := releaseResources(ctx, tx, o); err != nil {
			return err
		}
		if _, err := tx.DeletePlaceholder(ctx, orderID); err != nil {
			return fmt.Errorf("delete placeholder: %w", err)
		}
		if err := tx.DeleteOrder(ctx, orderID); err != nil {
			return fmt.Errorf("delete order: %w", err)
		}

		removed = o
		return nil
	})
	if err != nil {
		return false, err
	}
	if removed == nil {
		return false, nil
	}

	removed.Status = models.OrderStatusCanceled
	removed.CancelReason = opts.reason
	s.logger.InfoContext(ctx, "order rolled back",
		slog.String("order_id", removed.ID),
		slog.String("initiator", string(opts.initiator)),
		slog.String("reason", opts.reason))
	s.statusChanged(ctx, removed, opts.initiator, true)

	return true, nil
}

// ReclaimExpired rolls back every gateway order whose payment window has
// passed. Orders locked by a concurrent reconciliation are left for the next
// run. It returns how many orders were removed.
func (s *Service) ReclaimExpired(ctx context.Context) (int, error) {
	var expired []models.PaymentPlaceholder
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		expired, err = tx.ListExpiredPlaceholders(ctx, s.now(), s.batch)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list expired placeholders: %w", err)
	}

	reclaimed := 0
	var errs []error
	for _, p := range expired {
		if err := ctx.Err(); err != nil {
			return reclaimed, err
		}

		ok, err := s.rollback(ctx, p.OrderID, rollbackOptions{
			initiator:   notify.InitiatorSweeper,
			reason:      "payment window expired",
			expiredOnly: true,
			nowait:      true,
		})
		switch {
		case errors.Is(err, database.ErrLockTimeout):
			s.logger.DebugContext(ctx, "order busy, retrying next sweep", slog.String("order_id", p.OrderID))
		case err != nil:
			s.logger.ErrorContext(ctx, "reclaim expired order failed",
				slog.String("order_id", p.OrderID),
				slog.Any("error", err))
			errs = append(errs, fmt.Errorf("order %s: %w", p.OrderID, err))
		case ok:
			reclaimed++
		}
	}

	return reclaimed, errors.Join(errs...)
}
