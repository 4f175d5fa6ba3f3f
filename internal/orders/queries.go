package orders

import (
	"context"

	"github.com/safar/order-settlement/internal/database"
	"github.com/safar/order-settlement/internal/models"
)

// GetOrder returns the order with its lines. A non-empty customerID restricts
// the lookup to that customer's orders.
func (s *Service) GetOrder(ctx context.Context, customerID, orderID string) (*models.Order, error) {
	var order *models.Order
	err := s.store.View(ctx, func(tx Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if customerID != "" && o.CustomerID != customerID {
			return database.ErrOrderNotFound
		}
		order = o
		return nil
	})
	return order, err
}

// ListOrders pages through orders newest first. page is 0-based.
func (s *Service) ListOrders(ctx context.Context, filter models.OrderFilter, page, pageSize int) (*models.OffsetPage[models.Order], error) {
	if page < 0 {
		page = 0
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = 20
	}

	var (
		items []models.Order
		total int64
	)
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		items, total, err = tx.ListOrders(ctx, filter, page, pageSize)
		return err
	})
	if err != nil {
		return nil, err
	}

	return models.NewOffsetPage(items, total, page, pageSize), nil
}

// OrderStatistics counts a customer's orders per status. Every status is
// present in the result.
func (s *Service) OrderStatistics(ctx context.Context, customerID string) (map[models.OrderStatus]int, error) {
	var counts map[models.OrderStatus]int
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		counts, err = tx.CountOrdersByStatus(ctx, customerID)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make(map[models.OrderStatus]int, len(models.AllOrderStatuses()))
	for _, st := range models.AllOrderStatuses() {
		out[st] = counts[st]
	}
	return out, nil
}
