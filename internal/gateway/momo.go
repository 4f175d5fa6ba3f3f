package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/safar/order-settlement/internal/config"
)

type MoMo struct {
	cfg    config.GatewayConfig
	client *http.Client
}

func NewMoMo(cfg config.GatewayConfig) *MoMo {
	return &MoMo{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type createRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestType string `json:"requestType"`
	IPNURL      string `json:"ipnUrl"`
	RedirectURL string `json:"redirectUrl"`
	OrderID     string `json:"orderId"`
	Amount      int64  `json:"amount"`
	OrderInfo   string `json:"orderInfo"`
	RequestID   string `json:"requestId"`
	ExtraData   string `json:"extraData"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

type queryRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	OrderID     string `json:"orderId"`
	Signature   string `json:"signature"`
	Lang        string `json:"lang"`
}

type response struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	ResponseTime int64  `json:"responseTime"`
	Message      string `json:"message"`
	ResultCode   int    `json:"resultCode"`
	PayURL       string `json:"payUrl"`
}

func (m *MoMo) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	orderInfo := req.OrderInfo
	if orderInfo == "" {
		orderInfo = OrderInfo(req.OrderID)
	}

	body := createRequest{
		PartnerCode: m.cfg.PartnerCode,
		RequestType: m.cfg.RequestType,
		IPNURL:      m.cfg.IPNURL,
		RedirectURL: m.cfg.RedirectURL,
		OrderID:     req.OrderID,
		Amount:      req.Amount,
		OrderInfo:   orderInfo,
		RequestID:   req.RequestID,
		Lang:        m.cfg.Lang,
	}
	body.Signature = Sign(m.cfg.SecretKey, createSignaturePayload(m.cfg, body))

	var resp response
	if _, err := m.post(ctx, m.cfg.CreateEndpoint, body, &resp); err != nil {
		return nil, fmt.Errorf("create intent for %s: %w", req.OrderID, err)
	}

	if resp.ResultCode != ResultSuccess || resp.PayURL == "" {
		return nil, fmt.Errorf("create intent for %s: code %d %q: %w", req.OrderID, resp.ResultCode, resp.Message, ErrRejected)
	}

	return &Intent{PayURL: resp.PayURL, RequestID: req.RequestID}, nil
}

func (m *MoMo) QueryStatus(ctx context.Context, orderID string) (*Status, error) {
	// the order id doubles as the request id for status queries
	body := queryRequest{
		PartnerCode: m.cfg.PartnerCode,
		RequestID:   orderID,
		OrderID:     orderID,
		Lang:        m.cfg.Lang,
	}
	body.Signature = Sign(m.cfg.SecretKey, querySignaturePayload(m.cfg, orderID))

	var resp response
	raw, err := m.post(ctx, m.cfg.QueryEndpoint, body, &resp)
	if err != nil {
		return nil, fmt.Errorf("query status for %s: %w", orderID, err)
	}

	return &Status{
		OrderID:    orderID,
		ResultCode: resp.ResultCode,
		Message:    resp.Message,
		Raw:        raw,
	}, nil
}

func (m *MoMo) post(ctx context.Context, url string, in, out any) ([]byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("unexpected status %d", res.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", res.StatusCode, err)
	}

	return raw, nil
}

// Sign returns the hex-encoded HMAC-SHA256 of raw keyed by secret.
func Sign(secret, raw string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

func createSignaturePayload(cfg config.GatewayConfig, r createRequest) string {
	return "accessKey=" + cfg.AccessKey +
		"&amount=" + strconv.FormatInt(r.Amount, 10) +
		"&extraData=" + r.ExtraData +
		"&ipnUrl=" + r.IPNURL +
		"&orderId=" + r.OrderID +
		"&orderInfo=" + r.OrderInfo +
		"&partnerCode=" + r.PartnerCode +
		"&redirectUrl=" + r.RedirectURL +
		"&requestId=" + r.RequestID +
		"&requestType=" + r.RequestType
}

func querySignaturePayload(cfg config.GatewayConfig, orderID string) string {
	return fmt.Sprintf("accessKey=%s&orderId=%s&partnerCode=%s&requestId=%s",
		cfg.AccessKey, orderID, cfg.PartnerCode, orderID)
}
