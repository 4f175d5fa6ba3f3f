package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/order-settlement/internal/database"
	"github.com/safar/order-settlement/internal/models"
)

func (t *Tx) InsertPromotion(ctx context.Context, p *models.Promotion) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO promotions (id, code, discount_type, discount_value, max_value, min_order_value,
		                         usage_limit, remaining_usage, start_at, end_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.Code, p.DiscountType, p.DiscountValue, p.MaxValue, p.MinOrderValue,
		p.UsageLimit, p.RemainingUsage, p.StartAt, p.EndAt, p.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return database.ErrAlreadyExists
		}
		return fmt.Errorf("create promotion: %w", err)
	}
	return nil
}

func (t *Tx) GetPromotion(ctx context.Context, promotionID string) (*models.Promotion, error) {
	p := &models.Promotion{}
	var (
		maxValue  sql.NullInt64
		limit     sql.NullInt32
		remaining sql.NullInt32
	)

	query := `
		SELECT id, code, discount_type, discount_value, max_value, min_order_value,
		       usage_limit, remaining_usage, start_at, end_at, created_at
		FROM promotions
		WHERE id = $1`

	err := t.tx.QueryRowContext(ctx, query, promotionID).Scan(
		&p.ID,
		&p.Code,
		&p.DiscountType,
		&p.DiscountValue,
		&maxValue,
		&p.MinOrderValue,
		&limit,
		&remaining,
		&p.StartAt,
		&p.EndAt,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrPromotionNotFound
		}
		return nil, fmt.Errorf("get promotion: %w", err)
	}

	if maxValue.Valid {
		p.MaxValue = &maxValue.Int64
	}
	if limit.Valid {
		v := int(limit.Int32)
		p.UsageLimit = &v
	}
	if remaining.Valid {
		v := int(remaining.Int32)
		p.RemainingUsage = &v
	}

	return p, nil
}

func (t *Tx) InsertUserPromotion(ctx context.Context, up *models.UserPromotion) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO user_promotions (customer_id, promotion_id, created_at)
		 VALUES ($1, $2, $3)`,
		up.CustomerID, up.PromotionID, up.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return database.ErrAlreadyExists
		}
		return fmt.Errorf("grant user promotion: %w", err)
	}
	return nil
}

func (t *Tx) InsertProductPromotion(ctx context.Context, pp *models.ProductPromotion) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO product_promotions (sku_id, promotion_id, created_at)
		 VALUES ($1, $2, $3)`,
		pp.SKUID, pp.PromotionID, pp.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return database.ErrAlreadyExists
		}
		return fmt.Errorf("attach product promotion: %w", err)
	}
	return nil
}

func (t *Tx) HasUserPromotion(ctx context.Context, customerID, promotionID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM user_promotions WHERE customer_id = $1 AND promotion_id = $2)",
		customerID, promotionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user promotion: %w", err)
	}
	return exists, nil
}

func (t *Tx) HasProductPromotion(ctx context.Context, skuID, promotionID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM product_promotions WHERE sku_id = $1 AND promotion_id = $2)",
		skuID, promotionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check product promotion: %w", err)
	}
	return exists, nil
}

func (t *Tx) ConsumePromotion(ctx context.Context, promotionID string) error {
	var unlimited bool
	err := t.tx.QueryRowContext(ctx,
		`UPDATE promotions
		 SET remaining_usage = CASE WHEN usage_limit IS NULL THEN remaining_usage ELSE remaining_usage - 1 END
		 WHERE id = $1
		   AND (usage_limit IS NULL OR remaining_usage > 0)
		 RETURNING usage_limit IS NULL`,
		promotionID).Scan(&unlimited)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := t.GetPromotion(ctx, promotionID); getErr != nil {
				return getErr
			}
			return database.ErrPromotionExhausted
		}
		return fmt.Errorf("consume promotion: %w", err)
	}
	return nil
}

func (t *Tx) RestorePromotion(ctx context.Context, promotionID string) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE promotions
		 SET remaining_usage = remaining_usage + 1
		 WHERE id = $1
		   AND usage_limit IS NOT NULL
		   AND remaining_usage < usage_limit`,
		promotionID)
	if err != nil {
		return fmt.Errorf("restore promotion: %w", err)
	}
	return nil
}
