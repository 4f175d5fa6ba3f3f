package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/order-settlement/internal/database"
	"github.com/safar/order-settlement/internal/models"
)

func (t *Tx) InsertSKU(ctx context.Context, sku *models.SKU) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO skus (id, name, price, stock, available, sold, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sku.ID, sku.Name, sku.Price, sku.Stock, sku.Available, sku.Sold, sku.CreatedAt, sku.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return database.ErrAlreadyExists
		}
		return fmt.Errorf("create sku: %w", err)
	}
	return nil
}

func (t *Tx) GetSKU(ctx context.Context, skuID string) (*models.SKU, error) {
	sku := &models.SKU{}

	query := `
		SELECT id, name, price, stock, available, sold, created_at, updated_at
		FROM skus
		WHERE id = $1`

	err := t.tx.QueryRowContext(ctx, query, skuID).Scan(
		&sku.ID,
		&sku.Name,
		&sku.Price,
		&sku.Stock,
		&sku.Available,
		&sku.Sold,
		&sku.CreatedAt,
		&sku.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrSKUNotFound
		}
		return nil, fmt.Errorf("get sku: %w", err)
	}

	return sku, nil
}

func (t *Tx) ReserveStock(ctx context.Context, skuID string, qty int) error {
	ok, err := t.execOne(ctx,
		`UPDATE skus
		 SET available = available - $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND $1 > 0
		   AND available >= $1`,
		qty, skuID)
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}
	if !ok {
		return t.missingOr(ctx, skuID, database.ErrInsufficientStock)
	}
	return nil
}

func (t *Tx) ReleaseStock(ctx context.Context, skuID string, qty int) error {
	ok, err := t.execOne(ctx,
		`UPDATE skus
		 SET available = LEAST(stock, available + $1),
		     updated_at = NOW()
		 WHERE id = $2`,
		qty, skuID)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	if !ok {
		return database.ErrSKUNotFound
	}
	return nil
}

func (t *Tx) CommitStock(ctx context.Context, skuID string, qty int) error {
	ok, err := t.execOne(ctx,
		`UPDATE skus
		 SET stock = stock - $1,
		     sold = sold + $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock >= $1
		   AND available <= stock - $1`,
		qty, skuID)
	if err != nil {
		return fmt.Errorf("commit stock: %w", err)
	}
	if !ok {
		return t.missingOr(ctx, skuID, database.ErrStockNotEnoughAtSettlement)
	}
	return nil
}

// missingOr tells a missing SKU apart from a failed stock condition.
func (t *Tx) missingOr(ctx context.Context, skuID string, conditionErr error) error {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM skus WHERE id = $1)",
		skuID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check sku exists: %w", err)
	}
	if !exists {
		return database.ErrSKUNotFound
	}
	return conditionErr
}
