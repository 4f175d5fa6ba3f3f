package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/safar/order-settlement/internal/database"
	"github.com/safar/order-settlement/internal/models"
)

func (t *Tx) InsertPlaceholder(ctx context.Context, p *models.PaymentPlaceholder) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO payment_placeholders (order_id, customer_id, pay_url, request_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.OrderID, p.CustomerID, p.PayURL, p.RequestID, p.ExpiresAt, p.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return database.ErrAlreadyExists
		}
		return fmt.Errorf("create payment placeholder: %w", err)
	}
	return nil
}

func (t *Tx) GetPlaceholder(ctx context.Context, orderID string) (*models.PaymentPlaceholder, error) {
	p := &models.PaymentPlaceholder{}

	query := `
		SELECT order_id, customer_id, pay_url, request_id, expires_at, created_at
		FROM payment_placeholders
		WHERE order_id = $1`

	err := t.tx.QueryRowContext(ctx, query, orderID).Scan(
		&p.OrderID,
		&p.CustomerID,
		&p.PayURL,
		&p.RequestID,
		&p.ExpiresAt,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrPlaceholderNotFound
		}
		return nil, fmt.Errorf("get payment placeholder: %w", err)
	}

	return p, nil
}

func (t *Tx) UpdatePlaceholder(ctx context.Context, p *models.PaymentPlaceholder) error {
	ok, err := t.execOne(ctx,
		`UPDATE payment_placeholders
		 SET request_id = $1, pay_url = $2, expires_at = $3
		 WHERE order_id = $4`,
		p.RequestID, p.PayURL, p.ExpiresAt, p.OrderID)
	if err != nil {
		return fmt.Errorf("update payment placeholder: %w", err)
	}
	if !ok {
		return database.ErrPlaceholderNotFound
	}
	return nil
}

func (t *Tx) DeletePlaceholder(ctx context.Context, orderID string) (bool, error) {
	ok, err := t.execOne(ctx, `DELETE FROM payment_placeholders WHERE order_id = $1`, orderID)
	if err != nil {
		return false, fmt.Errorf("delete payment placeholder: %w", err)
	}
	return ok, nil
}

func (t *Tx) ListExpiredPlaceholders(ctx context.Context, now time.Time, limit int) ([]models.PaymentPlaceholder, error) {
	query := `
		SELECT order_id, customer_id, pay_url, request_id, expires_at, created_at
		FROM payment_placeholders
		WHERE expires_at < $1
		ORDER BY expires_at
		LIMIT $2`

	rows, err := t.tx.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired placeholders: %w", err)
	}
	defer rows.Close()

	var placeholders []models.PaymentPlaceholder
	for rows.Next() {
		var p models.PaymentPlaceholder
		err := rows.Scan(
			&p.OrderID,
			&p.CustomerID,
			&p.PayURL,
			&p.RequestID,
			&p.ExpiresAt,
			&p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan placeholder: %w", err)
		}
		placeholders = append(placeholders, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return placeholders, nil
}

func (t *Tx) PaymentExists(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM payments WHERE order_id = $1)",
		orderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check payment exists: %w", err)
	}
	return exists, nil
}

func (t *Tx) InsertPayment(ctx context.Context, p *models.Payment) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO payments (id, order_id, method, provider, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.OrderID, p.Method, p.Provider, p.Amount, p.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return database.ErrPaymentAlreadyExists
		}
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}
