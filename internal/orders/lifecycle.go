package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/safar/order-settlement/internal/database"
	"github.com/safar/order-settlement/internal/models"
	"github.com/safar/order-settlement/internal/notify"
)

// CancelOrder cancels one of the customer's own orders. The order row is kept
// with status CANCELED; its reservations and promotion uses are released.
func (s *Service) CancelOrder(ctx context.Context, customerID, orderID, reason string) (*models.Order, error) {
	var canceled *models.Order

	err := s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID, false)
		if err != nil {
			return err
		}
		if o.CustomerID != customerID {
			return database.ErrOrderNotFound
		}
		if !models.CanTransition(o.Status, models.OrderStatusCanceled) {
			return fmt.Errorf("cancel order %s in %s: %w", orderID, o.Status, database.ErrOrderNotCancellable)
		}

		if err := s.cancelLocked(ctx, tx, o, reason); err != nil {
			return err
		}
		canceled = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.statusChanged(ctx, canceled, notify.InitiatorCustomer, false)
	return canceled, nil
}

func (s *Service) cancelLocked(ctx context.Context, tx Tx, o *models.Order, reason string) error {
	if err := releaseResources(ctx, tx, o); err != nil {
		return err
	}
	if _, err := tx.DeletePlaceholder(ctx, o.ID); err != nil {
		return fmt.Errorf("delete placeholder: %w", err)
	}

	o.Status = models.OrderStatusCanceled
	o.CancelReason = reason
	o.ExpiresAt = nil
	o.UpdatedAt = s.now()
	if err := tx.UpdateOrder(ctx, o); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

// EditOrderRequest patches a PENDING order. Nil fields are left unchanged; an
// empty PromotionID removes the order-level promotion.
type EditOrderRequest struct {
	AddressID   *string
	Note        *string
	PromotionID *string
}

type EditOrderResult struct {
	Order *models.Order `json:"order"`
	// PayURL is set when the amount changed on a gateway order and a new
	// payment intent was issued.
	PayURL string `json:"pay_url,omitempty"`
}

func (s *Service) EditPendingOrder(ctx context.Context, customerID, orderID string, req EditOrderRequest) (*EditOrderResult, error) {
	var (
		edited  *models.Order
		reissue bool
	)

	err := s.store.InTx(ctx, func(tx Tx) error {
		reissue = false

		o, err := tx.LockOrder(ctx, orderID, false)
		if err != nil {
			return err
		}
		if o.CustomerID != customerID {
			return database.ErrOrderNotFound
		}
		if o.Status != models.OrderStatusPending {
			return fmt.Errorf("edit order %s in %s: %w", orderID, o.Status, database.ErrOrderNotEditable)
		}

		if req.AddressID != nil {
			owned, err := tx.AddressBelongsTo(ctx, *req.AddressID, customerID)
			if err != nil {
				return fmt.Errorf("check address: %w", err)
			}
			if !owned {
				return database.ErrAddressNotFound
			}
			o.AddressID = *req.AddressID
		}

		if req.Note != nil {
			o.Note = *req.Note
		}

		if req.PromotionID != nil && !samePromotion(o.PromotionID, *req.PromotionID) {
			previous := o.Amount
			if err := s.repriceLocked(ctx, tx, o, *req.PromotionID); err != nil {
				return err
			}
			if o.Amount != previous {
				reissue, err = invalidateIntent(ctx, tx, o.ID)
				if err != nil {
					return err
				}
			}
		}

		o.UpdatedAt = s.now()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		edited = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &EditOrderResult{Order: edited}
	if reissue {
		payURL, err := s.requestIntent(ctx, edited)
		if err != nil {
			return nil, err
		}
		result.PayURL = payURL
		s.logger.InfoContext(ctx, "payment intent reissued after edit",
			slog.String("order_id", edited.ID),
			slog.Int64("amount", edited.Amount))
	}
	return result, nil
}

// invalidateIntent gives the placeholder a fresh request ID and drops the pay
// URL issued for the previous amount. It reports whether the order has a
// placeholder at all.
func invalidateIntent(ctx context.Context, tx Tx, orderID string) (bool, error) {
	p, err := tx.GetPlaceholder(ctx, orderID)
	if errors.Is(err, database.ErrPlaceholderNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	p.RequestID = uuid.NewString()
	p.PayURL = ""
	if err := tx.UpdatePlaceholder(ctx, p); err != nil {
		return false, fmt.Errorf("update placeholder: %w", err)
	}
	return true, nil
}

func samePromotion(current *string, next string) bool {
	if current == nil {
		return next == ""
	}
	return *current == next
}

// repriceLocked swaps the order-level promotion and recomputes the amount
// from the line subtotal.
func (s *Service) repriceLocked(ctx context.Context, tx Tx, o *models.Order, promotionID string) error {
	if o.PromotionID != nil {
		if err := tx.RestorePromotion(ctx, *o.PromotionID); err != nil {
			return fmt.Errorf("restore promotion %s: %w", *o.PromotionID, err)
		}
	}

	base := o.Subtotal()
	o.PromotionID = nil
	o.OrderDiscount = 0
	o.Amount = base

	if promotionID == "" {
		return nil
	}

	discount, err := applyOrderPromotion(ctx, tx, o.CustomerID, promotionID, base, s.now())
	if err != nil {
		return err
	}
	o.PromotionID = &promotionID
	o.OrderDiscount = discount
	o.Amount = base - discount
	return nil
}

// AdminConfirm moves a PENDING order to PROCESSING. Orders still waiting on
// the gateway cannot be confirmed by hand.
func (s *Service) AdminConfirm(ctx context.Context, orderID string) (*models.Order, error) {
	return s.AdminSetStatus(ctx, orderID, models.OrderStatusProcessing, "")
}

func (s *Service) AdminSetStatus(ctx context.Context, orderID string, status models.OrderStatus, reason string) (*models.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", status, database.ErrInvalidRequest)
	}

	var updated *models.Order

	err := s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID, false)
		if err != nil {
			return err
		}

		if !models.CanTransition(o.Status, status) {
			if status == models.OrderStatusCanceled {
				return fmt.Errorf("cancel order %s in %s: %w", orderID, o.Status, database.ErrOrderNotCancellable)
			}
			return fmt.Errorf("order %s %s -> %s: %w", orderID, o.Status, status, database.ErrInvalidTransition)
		}

		if status == models.OrderStatusCanceled {
			if reason == "" {
				reason = AdminCancelReason
			}
			if err := s.cancelLocked(ctx, tx, o, reason); err != nil {
				return err
			}
			updated = o
			return nil
		}

		if status == models.OrderStatusProcessing {
			awaiting, err := awaitingPayment(ctx, tx, o.ID)
			if err != nil {
				return err
			}
			if awaiting {
				return fmt.Errorf("order %s is awaiting gateway payment: %w", orderID, database.ErrInvalidTransition)
			}
		}

		if status == models.OrderStatusCompleted {
			if err := s.completeOnDelivery(ctx, tx, o); err != nil {
				return err
			}
		}

		o.Status = status
		o.UpdatedAt = s.now()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}

		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "order status updated by admin",
		slog.String("order_id", updated.ID),
		slog.String("status", string(updated.Status)))
	s.statusChanged(ctx, updated, notify.InitiatorAdmin, false)
	return updated, nil
}

func awaitingPayment(ctx context.Context, tx Tx, orderID string) (bool, error) {
	_, err := tx.GetPlaceholder(ctx, orderID)
	if errors.Is(err, database.ErrPlaceholderNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// completeOnDelivery turns the reservations into sales and records the cash
// payment collected at delivery.
func (s *Service) completeOnDelivery(ctx context.Context, tx Tx, o *models.Order) error {
	paid, err := tx.PaymentExists(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("check payment: %w", err)
	}
	if paid {
		return fmt.Errorf("order %s: %w", o.ID, database.ErrPaymentAlreadyExists)
	}

	if err := commitResources(ctx, tx, o); err != nil {
		return err
	}

	err = tx.InsertPayment(ctx, &models.Payment{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		Method:    models.PaymentMethodOnDelivery,
		Provider:  "cash",
		Amount:    o.Amount,
		CreatedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}
