package models

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipping   OrderStatus = "SHIPPING"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCanceled   OrderStatus = "CANCELED"
)

// validNext is the administrative transition table. Settlement moves
// PENDING straight to COMPLETED and is checked by CanSettle instead.
var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPending:    {OrderStatusProcessing: true, OrderStatusCanceled: true},
	OrderStatusProcessing: {OrderStatusShipping: true, OrderStatusCanceled: true},
	OrderStatusShipping:   {OrderStatusCompleted: true},
	OrderStatusCompleted:  {},
	OrderStatusCanceled:   {},
}

func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

func CanSettle(from OrderStatus) bool {
	return from == OrderStatusPending
}

func (s OrderStatus) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCanceled
}

func AllOrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending,
		OrderStatusProcessing,
		OrderStatusShipping,
		OrderStatusCompleted,
		OrderStatusCanceled,
	}
}
