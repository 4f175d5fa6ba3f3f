package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		case "23505", "23503", "23502", "23514":
			return ErrorClassPermanent
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStockNotEnoughAtSettlement also matches ErrInsufficientStock.
	ErrStockNotEnoughAtSettlement = fmt.Errorf("%w at settlement", ErrInsufficientStock)

	ErrPromotionInvalid = errors.New("promotion invalid")
	// ErrPromotionExhausted also matches ErrPromotionInvalid.
	ErrPromotionExhausted = fmt.Errorf("%w: usage exhausted", ErrPromotionInvalid)

	ErrOrderNotFound           = errors.New("order not found")
	ErrOrderNotCancellable     = errors.New("order not cancellable")
	ErrOrderNotEditable        = errors.New("order not editable")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrOrderNotAwaitingPayment = errors.New("order not awaiting gateway payment")
	ErrPaymentAlreadyExists    = errors.New("payment already exists")
	ErrGatewayUnavailable      = errors.New("payment gateway unavailable")
	ErrIntegrityViolation      = errors.New("integrity violation")

	ErrSKUNotFound         = errors.New("sku not found")
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrAddressNotFound     = errors.New("address not found")
	ErrPromotionNotFound   = errors.New("promotion not found")
	ErrPlaceholderNotFound = errors.New("payment placeholder not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrLockTimeout         = errors.New("lock timeout")
)

// codes is ordered most specific first so wrapped variants win over their parents.
var codes = []struct {
	err  error
	code string
}{
	{ErrStockNotEnoughAtSettlement, "PRODUCT_NOT_ENOUGH_AT_SETTLEMENT"},
	{ErrInsufficientStock, "INSUFFICIENT_STOCK"},
	{ErrPromotionExhausted, "PROMOTION_EXHAUSTED"},
	{ErrPromotionInvalid, "PROMOTION_INVALID"},
	{ErrOrderNotFound, "ORDER_NOT_FOUND"},
	{ErrOrderNotCancellable, "ORDER_NOT_CANCELLABLE"},
	{ErrOrderNotEditable, "ORDER_NOT_EDITABLE"},
	{ErrInvalidTransition, "INVALID_TRANSITION"},
	{ErrOrderNotAwaitingPayment, "ORDER_NOT_AWAITING_PAYMENT"},
	{ErrPaymentAlreadyExists, "PAYMENT_ALREADY_EXISTS"},
	{ErrGatewayUnavailable, "GATEWAY_UNAVAILABLE"},
	{ErrIntegrityViolation, "INTEGRITY_VIOLATION"},
	{ErrSKUNotFound, "SKU_NOT_FOUND"},
	{ErrCustomerNotFound, "CUSTOMER_NOT_FOUND"},
	{ErrAddressNotFound, "ADDRESS_NOT_FOUND"},
	{ErrPromotionNotFound, "PROMOTION_NOT_FOUND"},
	{ErrPlaceholderNotFound, "PLACEHOLDER_NOT_FOUND"},
	{ErrAlreadyExists, "ALREADY_EXISTS"},
	{ErrInvalidRequest, "INVALID_REQUEST"},
	{ErrLockTimeout, "LOCK_TIMEOUT"},
}

// Code returns the stable error code for err, or "INTERNAL" when err is not
// part of the domain taxonomy.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL"
}
