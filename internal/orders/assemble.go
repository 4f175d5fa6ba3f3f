package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/safar/order-settlement/internal/database"
	"github.com/safar/order-settlement/internal/gateway"
	"github.com/safar/order-settlement/internal/models"
	"github.com/safar/order-settlement/internal/notify"
	"github.com/safar/order-settlement/internal/pricing"
)

type CreateOrderRequest struct {
	CustomerID    string
	AddressID     string
	Lines         []LineRequest
	PromotionID   string
	Note          string
	PaymentMethod models.PaymentMethod
}

type LineRequest struct {
	SKUID       string
	Quantity    int
	PromotionID string
}

type CreateOrderResult struct {
	Order  *models.Order `json:"order"`
	PayURL string        `json:"pay_url,omitempty"`
}

func (r *CreateOrderRequest) validate() error {
	if r.CustomerID == "" || r.AddressID == "" {
		return fmt.Errorf("customer and address are required: %w", database.ErrInvalidRequest)
	}
	if len(r.Lines) == 0 {
		return fmt.Errorf("order has no lines: %w", database.ErrInvalidRequest)
	}
	if r.PaymentMethod == "" {
		r.PaymentMethod = models.PaymentMethodGateway
	}
	if !r.PaymentMethod.Valid() {
		return fmt.Errorf("unknown payment method %q: %w", r.PaymentMethod, database.ErrInvalidRequest)
	}

	seen := make(map[string]bool, len(r.Lines))
	for _, l := range r.Lines {
		if l.SKUID == "" || l.Quantity <= 0 {
			return fmt.Errorf("line %q needs a sku and positive quantity: %w", l.SKUID, database.ErrInvalidRequest)
		}
		if seen[l.SKUID] {
			return fmt.Errorf("sku %s listed twice: %w", l.SKUID, database.ErrInvalidRequest)
		}
		seen[l.SKUID] = true
	}
	return nil
}

// CreateOrder reserves stock, prices the lines and persists a PENDING order.
// For gateway orders the payment placeholder is written in the same unit of
// work, so an order is never left without a sweeper deadline; the gateway is
// then called outside any transaction.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	// Stable lock order across concurrent assemblies.
	lines := append([]LineRequest(nil), req.Lines...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].SKUID < lines[j].SKUID })

	var order *models.Order
	err := s.store.InTx(ctx, func(tx Tx) error {
		now := s.now()
		o, err := s.assemble(ctx, tx, req, lines, now)
		if err != nil {
			return err
		}

		if err := tx.InsertOrder(ctx, o); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		if o.PaymentMethod == models.PaymentMethodGateway {
			err := tx.InsertPlaceholder(ctx, &models.PaymentPlaceholder{
				OrderID:    o.ID,
				CustomerID: o.CustomerID,
				RequestID:  uuid.NewString(),
				ExpiresAt:  *o.ExpiresAt,
				CreatedAt:  now,
			})
			if err != nil {
				return fmt.Errorf("insert payment placeholder: %w", err)
			}
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &CreateOrderResult{Order: order}

	if order.PaymentMethod == models.PaymentMethodGateway {
		payURL, err := s.requestIntent(ctx, order)
		if err != nil {
			return nil, err
		}
		result.PayURL = payURL
	}

	s.logger.InfoContext(ctx, "order created",
		slog.String("order_id", order.ID),
		slog.String("customer_id", order.CustomerID),
		slog.Int64("amount", order.Amount),
		slog.String("payment_method", string(order.PaymentMethod)))
	s.statusChanged(ctx, order, notify.InitiatorCustomer, false)

	return result, nil
}

func (s *Service) assemble(ctx context.Context, tx Tx, req CreateOrderRequest, lines []LineRequest, now time.Time) (*models.Order, error) {
	exists, err := tx.CustomerExists(ctx, req.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("check customer: %w", err)
	}
	if !exists {
		return nil, database.ErrCustomerNotFound
	}

	owned, err := tx.AddressBelongsTo(ctx, req.AddressID, req.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("check address: %w", err)
	}
	if !owned {
		return nil, database.ErrAddressNotFound
	}

	o := &models.Order{
		ID:            newOrderID(),
		CustomerID:    req.CustomerID,
		AddressID:     req.AddressID,
		Status:        models.OrderStatusPending,
		PaymentMethod: req.PaymentMethod,
		Note:          req.Note,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	for _, lr := range lines {
		line, err := s.assembleLine(ctx, tx, o.ID, lr, now)
		if err != nil {
			return nil, err
		}
		o.Lines = append(o.Lines, *line)
	}

	base := o.Subtotal()
	o.Amount = base

	if req.PromotionID != "" {
		discount, err := applyOrderPromotion(ctx, tx, req.CustomerID, req.PromotionID, base, now)
		if err != nil {
			return nil, err
		}
		o.PromotionID = &req.PromotionID
		o.OrderDiscount = discount
		o.Amount = base - discount
	}

	if o.PaymentMethod == models.PaymentMethodGateway {
		expires := now.Add(s.grace)
		o.ExpiresAt = &expires
	}

	return o, nil
}

func (s *Service) assembleLine(ctx context.Context, tx Tx, orderID string, lr LineRequest, now time.Time) (*models.OrderLine, error) {
	sku, err := tx.GetSKU(ctx, lr.SKUID)
	if err != nil {
		return nil, err
	}

	var promo *models.Promotion
	if lr.PromotionID != "" {
		promo, err = loadPromotion(ctx, tx, lr.PromotionID)
		if err != nil {
			return nil, err
		}
		joined, err := tx.HasProductPromotion(ctx, sku.ID, promo.ID)
		if err != nil {
			return nil, fmt.Errorf("check product promotion: %w", err)
		}
		if err := pricing.Validate(promo, sku.Price, now, joined); err != nil {
			return nil, err
		}
	}

	if err := tx.ReserveStock(ctx, sku.ID, lr.Quantity); err != nil {
		return nil, fmt.Errorf("reserve %d of sku %s: %w", lr.Quantity, sku.ID, err)
	}

	line := &models.OrderLine{
		OrderID:       orderID,
		SKUID:         sku.ID,
		Quantity:      lr.Quantity,
		OriginalPrice: sku.Price,
		SettledPrice:  sku.Price,
	}

	if promo != nil {
		d, err := pricing.FromPromotion(promo)
		if err != nil {
			return nil, err
		}
		line.SettledPrice = pricing.SettledPrice(sku.Price, d)

		if err := tx.ConsumePromotion(ctx, promo.ID); err != nil {
			return nil, fmt.Errorf("consume line promotion %s: %w", promo.ID, err)
		}
		line.PromotionID = &promo.ID
	}

	return line, nil
}

// applyOrderPromotion validates and consumes an order-level promotion and
// returns the discount it grants on base.
func applyOrderPromotion(ctx context.Context, tx Tx, customerID, promotionID string, base int64, now time.Time) (int64, error) {
	promo, err := loadPromotion(ctx, tx, promotionID)
	if err != nil {
		return 0, err
	}

	joined, err := tx.HasUserPromotion(ctx, customerID, promo.ID)
	if err != nil {
		return 0, fmt.Errorf("check user promotion: %w", err)
	}
	if err := pricing.Validate(promo, base, now, joined); err != nil {
		return 0, err
	}

	d, err := pricing.FromPromotion(promo)
	if err != nil {
		return 0, err
	}

	if err := tx.ConsumePromotion(ctx, promo.ID); err != nil {
		return 0, fmt.Errorf("consume order promotion %s: %w", promo.ID, err)
	}

	return d.Apply(base), nil
}

func loadPromotion(ctx context.Context, tx Tx, promotionID string) (*models.Promotion, error) {
	promo, err := tx.GetPromotion(ctx, promotionID)
	if errors.Is(err, database.ErrPromotionNotFound) {
		return nil, fmt.Errorf("promotion %s does not exist: %w", promotionID, database.ErrPromotionInvalid)
	}
	return promo, err
}

// requestIntent asks the gateway for a payment URL and records it on the
// placeholder. On gateway failure the order is rolled back straight away; if
// that fails too the sweeper reclaims it once the grace period ends.
func (s *Service) requestIntent(ctx context.Context, o *models.Order) (string, error) {
	var requestID string
	err := s.store.View(ctx, func(tx Tx) error {
		p, err := tx.GetPlaceholder(ctx, o.ID)
		if err != nil {
			return err
		}
		requestID = p.RequestID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("load placeholder for %s: %w", o.ID, err)
	}

	intent, err := s.gateway.CreateIntent(ctx, gateway.IntentRequest{
		OrderID:   o.ID,
		RequestID: requestID,
		Amount:    o.Amount,
		OrderInfo: gateway.OrderInfo(o.ID),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "create payment intent failed",
			slog.String("order_id", o.ID),
			slog.Any("error", err))

		if _, rbErr := s.rollback(ctx, o.ID, rollbackOptions{initiator: notify.InitiatorSystem, reason: "payment intent failed"}); rbErr != nil {
			s.logger.ErrorContext(ctx, "immediate rollback failed, leaving order to the sweeper",
				slog.String("order_id", o.ID),
				slog.Any("error", rbErr))
		}
		return "", fmt.Errorf("order %s: %w: %v", o.ID, database.ErrGatewayUnavailable, err)
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		p, err := tx.GetPlaceholder(ctx, o.ID)
		if err != nil {
			return err
		}
		p.PayURL = intent.PayURL
		p.ExpiresAt = s.now().Add(s.grace)
		if err := tx.UpdatePlaceholder(ctx, p); err != nil {
			return fmt.Errorf("update placeholder: %w", err)
		}

		locked, err := tx.LockOrder(ctx, o.ID, false)
		if err != nil {
			return err
		}
		locked.ExpiresAt = &p.ExpiresAt
		locked.UpdatedAt = s.now()
		if err := tx.UpdateOrder(ctx, locked); err != nil {
			return fmt.Errorf("update order expiry: %w", err)
		}
		o.ExpiresAt = locked.ExpiresAt
		return nil
	})
	if err != nil {
		// The intent exists but the order may already be reclaimed.
		return "", fmt.Errorf("record payment url for %s: %w", o.ID, err)
	}

	return intent.PayURL, nil
}
