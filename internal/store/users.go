package store

import (
	"context"
	"fmt"

	"github.com/safar/order-settlement/internal/database"
	"github.com/safar/order-settlement/internal/models"
)

func (t *Tx) InsertCustomer(ctx context.Context, c *models.Customer) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO customers (id, email, name, created_at)
		 VALUES ($1, $2, $3, $4)`,
		c.ID, c.Email, c.Name, c.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return database.ErrAlreadyExists
		}
		return fmt.Errorf("create customer: %w", err)
	}
	return nil
}

func (t *Tx) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM customers WHERE id = $1)",
		customerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check customer exists: %w", err)
	}
	return exists, nil
}

func (t *Tx) InsertAddress(ctx context.Context, a *models.Address) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO addresses (id, customer_id, line, created_at)
		 VALUES ($1, $2, $3, $4)`,
		a.ID, a.CustomerID, a.Line, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create address: %w", err)
	}
	return nil
}

func (t *Tx) AddressBelongsTo(ctx context.Context, addressID, customerID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM addresses WHERE id = $1 AND customer_id = $2)",
		addressID, customerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check address: %w", err)
	}
	return exists, nil
}
