package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/safar/order-settlement/internal/database"
	"github.com/safar/order-settlement/internal/models"
	"github.com/safar/order-settlement/internal/notify"
)

// The operations below seed the records the settlement core reads. Catalog
// and profile management proper live in other services.

func (s *Service) CreateCustomer(ctx context.Context, email, name string) (*models.Customer, error) {
	if email == "" {
		return nil, fmt.Errorf("email is required: %w", database.ErrInvalidRequest)
	}
	c := &models.Customer{ID: uuid.NewString(), Email: email, Name: name, CreatedAt: s.now()}
	err := s.store.InTx(ctx, func(tx Tx) error {
		return tx.InsertCustomer(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) CreateAddress(ctx context.Context, customerID, line string) (*models.Address, error) {
	if strings.TrimSpace(line) == "" {
		return nil, fmt.Errorf("address line is required: %w", database.ErrInvalidRequest)
	}
	a := &models.Address{ID: uuid.NewString(), CustomerID: customerID, Line: line, CreatedAt: s.now()}
	err := s.store.InTx(ctx, func(tx Tx) error {
		exists, err := tx.CustomerExists(ctx, customerID)
		if err != nil {
			return err
		}
		if !exists {
			return database.ErrCustomerNotFound
		}
		return tx.InsertAddress(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) CreateSKU(ctx context.Context, name string, price int64, stock int) (*models.SKU, error) {
	if price < 0 || stock < 0 {
		return nil, fmt.Errorf("price and stock must not be negative: %w", database.ErrInvalidRequest)
	}
	now := s.now()
	sku := &models.SKU{
		ID:        uuid.NewString(),
		Name:      name,
		Price:     price,
		Stock:     stock,
		Available: stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.store.InTx(ctx, func(tx Tx) error {
		return tx.InsertSKU(ctx, sku)
	})
	if err != nil {
		return nil, err
	}
	return sku, nil
}

type PromotionInput struct {
	Code          string
	DiscountType  models.DiscountType
	DiscountValue int64
	MaxValue      *int64
	MinOrderValue int64
	UsageLimit    *int
	StartAt       time.Time
	EndAt         time.Time
}

func (in PromotionInput) validate() error {
	switch {
	case in.Code == "":
		return fmt.Errorf("promotion code is required: %w", database.ErrInvalidRequest)
	case in.DiscountType != models.DiscountPercentage && in.DiscountType != models.DiscountFixed:
		return fmt.Errorf("unknown discount type %q: %w", in.DiscountType, database.ErrInvalidRequest)
	case in.DiscountValue < 0:
		return fmt.Errorf("discount value must not be negative: %w", database.ErrInvalidRequest)
	case in.DiscountType == models.DiscountPercentage && in.DiscountValue > 100:
		return fmt.Errorf("percentage above 100: %w", database.ErrInvalidRequest)
	case in.MaxValue != nil && *in.MaxValue < 0:
		return fmt.Errorf("max value must not be negative: %w", database.ErrInvalidRequest)
	case in.UsageLimit != nil && *in.UsageLimit < 0:
		return fmt.Errorf("usage limit must not be negative: %w", database.ErrInvalidRequest)
	case in.EndAt.Before(in.StartAt):
		return fmt.Errorf("promotion ends before it starts: %w", database.ErrInvalidRequest)
	}
	return nil
}

func (s *Service) CreatePromotion(ctx context.Context, in PromotionInput) (*models.Promotion, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	p := &models.Promotion{
		ID:            uuid.NewString(),
		Code:          in.Code,
		DiscountType:  in.DiscountType,
		DiscountValue: in.DiscountValue,
		MaxValue:      in.MaxValue,
		MinOrderValue: in.MinOrderValue,
		UsageLimit:    in.UsageLimit,
		StartAt:       in.StartAt,
		EndAt:         in.EndAt,
		CreatedAt:     s.now(),
	}
	if in.UsageLimit != nil {
		remaining := *in.UsageLimit
		p.RemainingUsage = &remaining
	}

	err := s.store.InTx(ctx, func(tx Tx) error {
		return tx.InsertPromotion(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetPromotion(ctx context.Context, promotionID string) (*models.Promotion, error) {
	var p *models.Promotion
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		p, err = tx.GetPromotion(ctx, promotionID)
		return err
	})
	return p, err
}

func (s *Service) GetSKU(ctx context.Context, skuID string) (*models.SKU, error) {
	var sku *models.SKU
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		sku, err = tx.GetSKU(ctx, skuID)
		return err
	})
	return sku, err
}

// GrantUserPromotion lets customerID use promotionID at order level.
func (s *Service) GrantUserPromotion(ctx context.Context, customerID, promotionID string) (*models.UserPromotion, error) {
	up := &models.UserPromotion{CustomerID: customerID, PromotionID: promotionID, CreatedAt: s.now()}
	err := s.store.InTx(ctx, func(tx Tx) error {
		exists, err := tx.CustomerExists(ctx, customerID)
		if err != nil {
			return err
		}
		if !exists {
			return database.ErrCustomerNotFound
		}
		if _, err := tx.GetPromotion(ctx, promotionID); err != nil {
			return err
		}
		return tx.InsertUserPromotion(ctx, up)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.PromotionGranted(ctx, notify.PromotionGranted{
		CustomerID:  customerID,
		PromotionID: promotionID,
		OccurredAt:  up.CreatedAt,
	})
	return up, nil
}

// AttachProductPromotion lets promotionID be used on lines for skuID.
func (s *Service) AttachProductPromotion(ctx context.Context, skuID, promotionID string) (*models.ProductPromotion, error) {
	pp := &models.ProductPromotion{SKUID: skuID, PromotionID: promotionID, CreatedAt: s.now()}
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.GetSKU(ctx, skuID); err != nil {
			return err
		}
		if _, err := tx.GetPromotion(ctx, promotionID); err != nil {
			return err
		}
		return tx.InsertProductPromotion(ctx, pp)
	})
	if err != nil {
		return nil, err
	}
	return pp, nil
}
