package gateway

import (
	"context"
	"encoding/json"
	"errors"
)

const (
	ResultSuccess        = 0
	ResultBuyerCanceled  = 1006
	ProviderMoMo         = "momo"
	defaultOrderInfoHead = "Order information "
)

var ErrRejected = errors.New("gateway rejected request")

type IntentRequest struct {
	OrderID   string
	RequestID string
	Amount    int64
	OrderInfo string
}

type Intent struct {
	PayURL    string
	RequestID string
}

type Status struct {
	OrderID    string          `json:"order_id"`
	ResultCode int             `json:"result_code"`
	Message    string          `json:"message"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

func (s *Status) Succeeded() bool { return s.ResultCode == ResultSuccess }

func (s *Status) BuyerCanceled() bool { return s.ResultCode == ResultBuyerCanceled }

// Client is the external payment gateway. Both calls are blocking network I/O
// and must not be made while a storage transaction is open.
type Client interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	QueryStatus(ctx context.Context, orderID string) (*Status, error)
}

func OrderInfo(orderID string) string {
	return defaultOrderInfoHead + orderID
}
