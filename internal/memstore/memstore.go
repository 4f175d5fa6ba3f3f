// Package memstore is an in-process implementation of orders.Store. A unit of
// work runs against a copy of the state under one lock and the copy replaces
// the live state only when the work succeeds, which gives the same
// all-or-nothing behaviour as a database transaction.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/safar/order-settlement/internal/database"
	"github.com/safar/order-settlement/internal/models"
	"github.com/safar/order-settlement/internal/orders"
)

type pair [2]string

type state struct {
	customers     map[string]models.Customer
	addresses     map[string]models.Address
	skus          map[string]models.SKU
	promotions    map[string]models.Promotion
	userPromos    map[pair]models.UserPromotion
	productPromos map[pair]models.ProductPromotion
	orders        map[string]models.Order
	lines         map[string][]models.OrderLine
	placeholders  map[string]models.PaymentPlaceholder
	payments      map[string]models.Payment
}

func newState() *state {
	return &state{
		customers:     map[string]models.Customer{},
		addresses:     map[string]models.Address{},
		skus:          map[string]models.SKU{},
		promotions:    map[string]models.Promotion{},
		userPromos:    map[pair]models.UserPromotion{},
		productPromos: map[pair]models.ProductPromotion{},
		orders:        map[string]models.Order{},
		lines:         map[string][]models.OrderLine{},
		placeholders:  map[string]models.PaymentPlaceholder{},
		payments:      map[string]models.Payment{},
	}
}

// clone copies the maps. Values are never mutated in place, so sharing them
// between copies is safe.
func (s *state) clone() *state {
	return &state{
		customers:     cloneMap(s.customers),
		addresses:     cloneMap(s.addresses),
		skus:          cloneMap(s.skus),
		promotions:    cloneMap(s.promotions),
		userPromos:    cloneMap(s.userPromos),
		productPromos: cloneMap(s.productPromos),
		orders:        cloneMap(s.orders),
		lines:         cloneMap(s.lines),
		placeholders:  cloneMap(s.placeholders),
		payments:      cloneMap(s.payments),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type Store struct {
	mu sync.RWMutex
	st *state
}

var _ orders.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx orders.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&tx{st: s.st.clone()})
}

type tx struct {
	st *state
}

var _ orders.Tx = (*tx)(nil)

func (t *tx) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	_, ok := t.st.customers[customerID]
	return ok, nil
}

func (t *tx) AddressBelongsTo(ctx context.Context, addressID, customerID string) (bool, error) {
	a, ok := t.st.addresses[addressID]
	return ok && a.CustomerID == customerID, nil
}

func (t *tx) InsertCustomer(ctx context.Context, c *models.Customer) error {
	if _, ok := t.st.customers[c.ID]; ok {
		return database.ErrAlreadyExists
	}
	for _, existing := range t.st.customers {
		if existing.Email == c.Email {
			return database.ErrAlreadyExists
		}
	}
	t.st.customers[c.ID] = *c
	return nil
}

func (t *tx) InsertAddress(ctx context.Context, a *models.Address) error {
	if _, ok := t.st.addresses[a.ID]; ok {
		return database.ErrAlreadyExists
	}
	t.st.addresses[a.ID] = *a
	return nil
}

func (t *tx) InsertSKU(ctx context.Context, sku *models.SKU) error {
	if _, ok := t.st.skus[sku.ID]; ok {
		return database.ErrAlreadyExists
	}
	t.st.skus[sku.ID] = *sku
	return nil
}

func (t *tx) GetSKU(ctx context.Context, skuID string) (*models.SKU, error) {
	sku, ok := t.st.skus[skuID]
	if !ok {
		return nil, database.ErrSKUNotFound
	}
	return &sku, nil
}

func (t *tx) ReserveStock(ctx context.Context, skuID string, qty int) error {
	sku, ok := t.st.skus[skuID]
	if !ok {
		return database.ErrSKUNotFound
	}
	if qty <= 0 || sku.Available < qty {
		return database.ErrInsufficientStock
	}
	sku.Available -= qty
	sku.UpdatedAt = time.Now()
	t.st.skus[skuID] = sku
	return nil
}

func (t *tx) ReleaseStock(ctx context.Context, skuID string, qty int) error {
	sku, ok := t.st.skus[skuID]
	if !ok {
		return database.ErrSKUNotFound
	}
	sku.Available = min(sku.Stock, sku.Available+qty)
	sku.UpdatedAt = time.Now()
	t.st.skus[skuID] = sku
	return nil
}

func (t *tx) CommitStock(ctx context.Context, skuID string, qty int) error {
	sku, ok := t.st.skus[skuID]
	if !ok {
		return database.ErrSKUNotFound
	}
	if sku.Stock < qty || sku.Available > sku.Stock-qty {
		return database.ErrStockNotEnoughAtSettlement
	}
	sku.Stock -= qty
	sku.Sold += qty
	sku.UpdatedAt = time.Now()
	t.st.skus[skuID] = sku
	return nil
}

func (t *tx) InsertPromotion(ctx context.Context, p *models.Promotion) error {
	if _, ok := t.st.promotions[p.ID]; ok {
		return database.ErrAlreadyExists
	}
	for _, existing := range t.st.promotions {
		if existing.Code == p.Code {
			return database.ErrAlreadyExists
		}
	}
	t.st.promotions[p.ID] = *p
	return nil
}

func (t *tx) GetPromotion(ctx context.Context, promotionID string) (*models.Promotion, error) {
	p, ok := t.st.promotions[promotionID]
	if !ok {
		return nil, database.ErrPromotionNotFound
	}
	return &p, nil
}

func (t *tx) InsertUserPromotion(ctx context.Context, up *models.UserPromotion) error {
	key := pair{up.CustomerID, up.PromotionID}
	if _, ok := t.st.userPromos[key]; ok {
		return database.ErrAlreadyExists
	}
	t.st.userPromos[key] = *up
	return nil
}

func (t *tx) InsertProductPromotion(ctx context.Context, pp *models.ProductPromotion) error {
	key := pair{pp.SKUID, pp.PromotionID}
	if _, ok := t.st.productPromos[key]; ok {
		return database.ErrAlreadyExists
	}
	t.st.productPromos[key] = *pp
	return nil
}

func (t *tx) HasUserPromotion(ctx context.Context, customerID, promotionID string) (bool, error) {
	_, ok := t.st.userPromos[pair{customerID, promotionID}]
	return ok, nil
}

func (t *tx) HasProductPromotion(ctx context.Context, skuID, promotionID string) (bool, error) {
	_, ok := t.st.productPromos[pair{skuID, promotionID}]
	return ok, nil
}

func (t *tx) ConsumePromotion(ctx context.Context, promotionID string) error {
	p, ok := t.st.promotions[promotionID]
	if !ok {
		return database.ErrPromotionNotFound
	}
	if p.UsageLimit == nil {
		return nil
	}
	if p.RemainingUsage == nil || *p.RemainingUsage <= 0 {
		return database.ErrPromotionExhausted
	}
	remaining := *p.RemainingUsage - 1
	p.RemainingUsage = &remaining
	t.st.promotions[promotionID] = p
	return nil
}

func (t *tx) RestorePromotion(ctx context.Context, promotionID string) error {
	p, ok := t.st.promotions[promotionID]
	if !ok {
		return database.ErrPromotionNotFound
	}
	if p.UsageLimit == nil || p.RemainingUsage == nil || *p.RemainingUsage >= *p.UsageLimit {
		return nil
	}
	remaining := *p.RemainingUsage + 1
	p.RemainingUsage = &remaining
	t.st.promotions[promotionID] = p
	return nil
}

func (t *tx) InsertOrder(ctx context.Context, o *models.Order) error {
	if _, ok := t.st.orders[o.ID]; ok {
		return database.ErrAlreadyExists
	}
	stored := *o
	stored.Lines = nil
	t.st.orders[o.ID] = stored
	t.st.lines[o.ID] = append([]models.OrderLine(nil), o.Lines...)
	return nil
}

func (t *tx) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	o, ok := t.st.orders[orderID]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	o.Lines = append([]models.OrderLine(nil), t.st.lines[orderID]...)
	return &o, nil
}

func (t *tx) LockOrder(ctx context.Context, orderID string, nowait bool) (*models.Order, error) {
	return t.GetOrder(ctx, orderID)
}

func (t *tx) UpdateOrder(ctx context.Context, o *models.Order) error {
	if _, ok := t.st.orders[o.ID]; !ok {
		return database.ErrOrderNotFound
	}
	stored := *o
	stored.Lines = nil
	t.st.orders[o.ID] = stored
	return nil
}

func (t *tx) DeleteOrder(ctx context.Context, orderID string) error {
	delete(t.st.lines, orderID)
	delete(t.st.orders, orderID)
	return nil
}

func (t *tx) ListOrders(ctx context.Context, filter models.OrderFilter, page, pageSize int) ([]models.Order, int64, error) {
	var matched []models.Order
	for _, o := range t.st.orders {
		if filter.CustomerID != "" && o.CustomerID != filter.CustomerID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, o.Status) {
			continue
		}
		if containsStatus(filter.ExcludeStatuses, o.Status) {
			continue
		}
		matched = append(matched, o)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	start := page * pageSize
	if start >= len(matched) {
		return nil, total, nil
	}
	end := min(start+pageSize, len(matched))
	return matched[start:end], total, nil
}

func containsStatus(list []models.OrderStatus, s models.OrderStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (t *tx) CountOrdersByStatus(ctx context.Context, customerID string) (map[models.OrderStatus]int, error) {
	counts := map[models.OrderStatus]int{}
	for _, o := range t.st.orders {
		if customerID != "" && o.CustomerID != customerID {
			continue
		}
		counts[o.Status]++
	}
	return counts, nil
}

func (t *tx) InsertPlaceholder(ctx context.Context, p *models.PaymentPlaceholder) error {
	if _, ok := t.st.orders[p.OrderID]; !ok {
		return database.ErrOrderNotFound
	}
	if _, ok := t.st.placeholders[p.OrderID]; ok {
		return database.ErrAlreadyExists
	}
	t.st.placeholders[p.OrderID] = *p
	return nil
}

func (t *tx) GetPlaceholder(ctx context.Context, orderID string) (*models.PaymentPlaceholder, error) {
	p, ok := t.st.placeholders[orderID]
	if !ok {
		return nil, database.ErrPlaceholderNotFound
	}
	return &p, nil
}

func (t *tx) UpdatePlaceholder(ctx context.Context, p *models.PaymentPlaceholder) error {
	if _, ok := t.st.placeholders[p.OrderID]; !ok {
		return database.ErrPlaceholderNotFound
	}
	t.st.placeholders[p.OrderID] = *p
	return nil
}

func (t *tx) DeletePlaceholder(ctx context.Context, orderID string) (bool, error) {
	_, ok := t.st.placeholders[orderID]
	delete(t.st.placeholders, orderID)
	return ok, nil
}

func (t *tx) ListExpiredPlaceholders(ctx context.Context, now time.Time, limit int) ([]models.PaymentPlaceholder, error) {
	var out []models.PaymentPlaceholder
	for _, p := range t.st.placeholders {
		if p.ExpiresAt.Before(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) PaymentExists(ctx context.Context, orderID string) (bool, error) {
	_, ok := t.st.payments[orderID]
	return ok, nil
}

func (t *tx) InsertPayment(ctx context.Context, p *models.Payment) error {
	if _, ok := t.st.payments[p.OrderID]; ok {
		return database.ErrPaymentAlreadyExists
	}
	t.st.payments[p.OrderID] = *p
	return nil
}
