package models

import (
	"time"
)

// Money amounts are integer minor units (VND has no subunit).

type Customer struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Address struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Line       string    `json:"line"`
	CreatedAt  time.Time `json:"created_at"`
}

type SKU struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	Stock     int       `json:"stock"`
	Available int       `json:"available"`
	Sold      int       `json:"sold"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFixed      DiscountType = "FIXED"
)

type Promotion struct {
	ID            string       `json:"id"`
	Code          string       `json:"code"`
	DiscountType  DiscountType `json:"discount_type"`
	DiscountValue int64        `json:"discount_value"`
	MaxValue      *int64       `json:"max_value,omitempty"`
	MinOrderValue int64        `json:"min_order_value"`
	// UsageLimit nil means unlimited; RemainingUsage is then ignored.
	UsageLimit     *int      `json:"usage_limit,omitempty"`
	RemainingUsage *int      `json:"remaining_usage,omitempty"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
	CreatedAt      time.Time `json:"created_at"`
}

type UserPromotion struct {
	CustomerID  string    `json:"customer_id"`
	PromotionID string    `json:"promotion_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type ProductPromotion struct {
	SKUID       string    `json:"sku_id"`
	PromotionID string    `json:"promotion_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type Order struct {
	ID            string        `json:"id"`
	CustomerID    string        `json:"customer_id"`
	AddressID     string        `json:"address_id"`
	Status        OrderStatus   `json:"status"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Amount        int64         `json:"amount"`
	OrderDiscount int64         `json:"order_discount"`
	PromotionID   *string       `json:"promotion_id,omitempty"`
	Note          string        `json:"note,omitempty"`
	CancelReason  string        `json:"cancel_reason,omitempty"`
	PDFURL        string        `json:"pdf_url,omitempty"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Lines         []OrderLine   `json:"lines,omitempty"`
}

// Subtotal is the sum of settled line prices before the order-level discount.
func (o *Order) Subtotal() int64 {
	var total int64
	for _, l := range o.Lines {
		total += l.SettledPrice * int64(l.Quantity)
	}
	return total
}

type OrderLine struct {
	OrderID       string  `json:"order_id"`
	SKUID         string  `json:"sku_id"`
	Quantity      int     `json:"quantity"`
	OriginalPrice int64   `json:"original_price"`
	SettledPrice  int64   `json:"settled_price"`
	PromotionID   *string `json:"promotion_id,omitempty"`
}

type PaymentMethod string

const (
	PaymentMethodGateway    PaymentMethod = "GATEWAY"
	PaymentMethodOnDelivery PaymentMethod = "ON_DELIVERY"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodGateway || m == PaymentMethodOnDelivery
}

// PaymentPlaceholder marks an order as awaiting gateway confirmation.
type PaymentPlaceholder struct {
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	PayURL     string    `json:"pay_url"`
	RequestID  string    `json:"request_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

type Payment struct {
	ID        string        `json:"id"`
	OrderID   string        `json:"order_id"`
	Method    PaymentMethod `json:"method"`
	Provider  string        `json:"provider"`
	Amount    int64         `json:"amount"`
	CreatedAt time.Time     `json:"created_at"`
}
