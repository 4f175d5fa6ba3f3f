package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/safar/order-settlement/internal/database"
	"github.com/safar/order-settlement/internal/models"
)

const orderColumns = `id, customer_id, address_id, status, payment_method, amount, order_discount,
		       promotion_id, note, cancel_reason, pdf_url, expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var (
		promotionID sql.NullString
		expiresAt   sql.NullTime
	)

	err := row.Scan(
		&order.ID,
		&order.CustomerID,
		&order.AddressID,
		&order.Status,
		&order.PaymentMethod,
		&order.Amount,
		&order.OrderDiscount,
		&promotionID,
		&order.Note,
		&order.CancelReason,
		&order.PDFURL,
		&expiresAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if promotionID.Valid {
		order.PromotionID = &promotionID.String
	}
	if expiresAt.Valid {
		order.ExpiresAt = &expiresAt.Time
	}

	return order, nil
}

func (t *Tx) InsertOrder(ctx context.Context, o *models.Order) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO orders (id, customer_id, address_id, status, payment_method, amount, order_discount,
		                     promotion_id, note, cancel_reason, pdf_url, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		o.ID, o.CustomerID, o.AddressID, o.Status, o.PaymentMethod, o.Amount, o.OrderDiscount,
		o.PromotionID, o.Note, o.CancelReason, o.PDFURL, o.ExpiresAt, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return database.ErrAlreadyExists
		}
		return fmt.Errorf("create order: %w", err)
	}

	for _, line := range o.Lines {
		_, err = t.tx.ExecContext(ctx,
			`INSERT INTO order_lines (order_id, sku_id, quantity, original_price, settled_price, promotion_id)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, line.SKUID, line.Quantity, line.OriginalPrice, line.SettledPrice, line.PromotionID)
		if err != nil {
			return fmt.Errorf("create order line: %w", err)
		}
	}

	return nil
}

func (t *Tx) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return t.getOrder(ctx, orderID, "")
}

func (t *Tx) LockOrder(ctx context.Context, orderID string, nowait bool) (*models.Order, error) {
	lock := "FOR UPDATE"
	if nowait {
		lock = "FOR UPDATE NOWAIT"
	}

	order, err := t.getOrder(ctx, orderID, lock)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "55P03" {
			return nil, database.ErrLockTimeout
		}
		return nil, err
	}
	return order, nil
}

func (t *Tx) getOrder(ctx context.Context, orderID, lock string) (*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1 ` + lock

	order, err := scanOrder(t.tx.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	linesQuery := `
		SELECT order_id, sku_id, quantity, original_price, settled_price, promotion_id
		FROM order_lines
		WHERE order_id = $1
		ORDER BY sku_id`

	rows, err := t.tx.QueryContext(ctx, linesQuery, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			line        models.OrderLine
			promotionID sql.NullString
		)
		err := rows.Scan(
			&line.OrderID,
			&line.SKUID,
			&line.Quantity,
			&line.OriginalPrice,
			&line.SettledPrice,
			&promotionID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		if promotionID.Valid {
			line.PromotionID = &promotionID.String
		}
		order.Lines = append(order.Lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return order, nil
}

func (t *Tx) UpdateOrder(ctx context.Context, o *models.Order) error {
	ok, err := t.execOne(ctx,
		`UPDATE orders
		 SET address_id = $1,
		     status = $2,
		     amount = $3,
		     order_discount = $4,
		     promotion_id = $5,
		     note = $6,
		     cancel_reason = $7,
		     pdf_url = $8,
		     expires_at = $9,
		     updated_at = $10
		 WHERE id = $11`,
		o.AddressID, o.Status, o.Amount, o.OrderDiscount, o.PromotionID, o.Note,
		o.CancelReason, o.PDFURL, o.ExpiresAt, o.UpdatedAt, o.ID)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if !ok {
		return database.ErrOrderNotFound
	}
	return nil
}

func (t *Tx) DeleteOrder(ctx context.Context, orderID string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM order_lines WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("delete order lines: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}

func orderFilterClause(filter models.OrderFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		conds = append(conds, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		args = append(args, pq.Array(statusStrings(filter.Statuses)))
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(filter.ExcludeStatuses) > 0 {
		args = append(args, pq.Array(statusStrings(filter.ExcludeStatuses)))
		conds = append(conds, fmt.Sprintf("NOT (status = ANY($%d))", len(args)))
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func statusStrings(statuses []models.OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (t *Tx) ListOrders(ctx context.Context, filter models.OrderFilter, page, pageSize int) ([]models.Order, int64, error) {
	where, args := orderFilterClause(filter)

	var total int64
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	args = append(args, pageSize, page*pageSize)
	query := fmt.Sprintf(`
		SELECT %s
		FROM orders
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, orderColumns, where, len(args)-1, len(args))

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return orders, total, nil
}

func (t *Tx) CountOrdersByStatus(ctx context.Context, customerID string) (map[models.OrderStatus]int, error) {
	where, args := orderFilterClause(models.OrderFilter{CustomerID: customerID})

	rows, err := t.tx.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders `+where+` GROUP BY status`, args...)
	if err != nil {
		return nil, fmt.Errorf("count orders by status: %w", err)
	}
	defer rows.Close()

	counts := map[models.OrderStatus]int{}
	for rows.Next() {
		var (
			status models.OrderStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return counts, nil
}
