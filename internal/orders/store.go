package orders

import (
	"context"
	"time"

	"github.com/safar/order-settlement/internal/models"
)

// Store runs units of work against persistent state. InTx is all-or-nothing:
// if fn returns an error nothing it wrote is visible. fn may be re-run on
// transient storage conflicts.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of storage operations available inside a unit of work.
// Counter mutations are single conditional updates, never read-modify-write.
type Tx interface {
	InventoryLedger
	PromotionLedger

	CustomerExists(ctx context.Context, customerID string) (bool, error)
	AddressBelongsTo(ctx context.Context, addressID, customerID string) (bool, error)
	InsertCustomer(ctx context.Context, c *models.Customer) error
	InsertAddress(ctx context.Context, a *models.Address) error

	InsertOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	// LockOrder loads the order with its lines and holds a row lock on it
	// until the unit of work ends. With nowait it fails with
	// database.ErrLockTimeout instead of blocking.
	LockOrder(ctx context.Context, orderID string, nowait bool) (*models.Order, error)
	UpdateOrder(ctx context.Context, o *models.Order) error
	// DeleteOrder removes the order lines and then the order row.
	DeleteOrder(ctx context.Context, orderID string) error
	ListOrders(ctx context.Context, filter models.OrderFilter, page, pageSize int) ([]models.Order, int64, error)
	CountOrdersByStatus(ctx context.Context, customerID string) (map[models.OrderStatus]int, error)

	InsertPlaceholder(ctx context.Context, p *models.PaymentPlaceholder) error
	GetPlaceholder(ctx context.Context, orderID string) (*models.PaymentPlaceholder, error)
	UpdatePlaceholder(ctx context.Context, p *models.PaymentPlaceholder) error
	// DeletePlaceholder reports whether a row was removed.
	DeletePlaceholder(ctx context.Context, orderID string) (bool, error)
	ListExpiredPlaceholders(ctx context.Context, now time.Time, limit int) ([]models.PaymentPlaceholder, error)

	PaymentExists(ctx context.Context, orderID string) (bool, error)
	InsertPayment(ctx context.Context, p *models.Payment) error
}

type InventoryLedger interface {
	InsertSKU(ctx context.Context, s *models.SKU) error
	GetSKU(ctx context.Context, skuID string) (*models.SKU, error)
	// ReserveStock fails with database.ErrInsufficientStock when fewer than
	// qty units are available.
	ReserveStock(ctx context.Context, skuID string, qty int) error
	ReleaseStock(ctx context.Context, skuID string, qty int) error
	// CommitStock fails with database.ErrStockNotEnoughAtSettlement when
	// stock cannot cover qty.
	CommitStock(ctx context.Context, skuID string, qty int) error
}

type PromotionLedger interface {
	InsertPromotion(ctx context.Context, p *models.Promotion) error
	GetPromotion(ctx context.Context, promotionID string) (*models.Promotion, error)
	InsertUserPromotion(ctx context.Context, up *models.UserPromotion) error
	InsertProductPromotion(ctx context.Context, pp *models.ProductPromotion) error
	HasUserPromotion(ctx context.Context, customerID, promotionID string) (bool, error)
	HasProductPromotion(ctx context.Context, skuID, promotionID string) (bool, error)
	// ConsumePromotion is a no-op for unlimited promotions and fails with
	// database.ErrPromotionExhausted when no usage remains.
	ConsumePromotion(ctx context.Context, promotionID string) error
	// RestorePromotion never raises remaining usage above the usage limit.
	RestorePromotion(ctx context.Context, promotionID string) error
}
