// Package gateway is a NOWPayments-style crypto payment gateway client: invoice
// creation, payment status lookup and IPN signature checks.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-autopilot/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-autopilot/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL              = "https://api.nowpayments.io/v1"
	responseBodyReadLimit int64 = 1024

	// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
	SignatureHeader = "X-Gateway-Signature"
)

var errAPIKeyRequired = errors.New("payment gateway api key is required")

// StartParams describes a new invoice.
type StartParams struct {
	OrderID     string
	ProductID   string
	Amount      decimal.Decimal
	Currency    string
	Description string
	CallbackURL string
	SuccessURL  string
}

// StartResult holds the gateway identifiers of a created invoice.
type StartResult struct {
	PaymentID  string
	InvoiceURL string
}

// Client wraps the gateway endpoints used by checkout.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the gateway base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithTimeout sets the per-call timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// NewClient builds the gateway client given an API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(apiKey)
	if trimmed == "" {
		return nil, errAPIKeyRequired
	}
	client := &Client{
		apiKey:     trimmed,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Start creates a hosted invoice for the order.
func (c *Client) Start(ctx context.Context, params StartParams) (*StartResult, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway not configured")
	}
	if !params.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if strings.TrimSpace(params.Currency) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "currency is required")
	}

	body := map[string]any{
		"price_amount":      params.Amount.InexactFloat64(),
		"price_currency":    strings.ToLower(params.Currency),
		"order_id":          params.OrderID,
		"order_description": params.Description,
	}
	if params.CallbackURL != "" {
		body["ipn_callback_url"] = params.CallbackURL
	}
	if params.SuccessURL != "" {
		body["success_url"] = params.SuccessURL
	}

	var resp struct {
		ID         json.RawMessage `json:"id"`
		InvoiceURL string          `json:"invoice_url"`
	}
	if err := c.do(ctx, "create invoice", http.MethodPost, "/invoice", body, &resp); err != nil {
		return nil, err
	}
	paymentID := strings.Trim(string(resp.ID), `"`)
	if paymentID == "" || paymentID == "null" || resp.InvoiceURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeRemote, "invoice response missing id or invoice_url")
	}
	return &StartResult{PaymentID: paymentID, InvoiceURL: resp.InvoiceURL}, nil
}

// Check returns the order status corresponding to the gateway's payment status.
func (c *Client) Check(ctx context.Context, paymentID string) (enums.OrderStatus, error) {
	if c == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "payment gateway not configured")
	}
	if strings.TrimSpace(paymentID) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	var resp struct {
		PaymentStatus string `json:"payment_status"`
	}
	if err := c.do(ctx, "check payment", http.MethodGet, "/payment/"+url.PathEscape(paymentID), nil, &resp); err != nil {
		return "", err
	}
	return MapStatus(resp.PaymentStatus), nil
}

// MapStatus folds provider payment states into order states.
func MapStatus(providerStatus string) enums.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "finished", "confirmed":
		return enums.OrderStatusPaid
	case "expired":
		return enums.OrderStatusExpired
	case "failed", "refunded":
		return enums.OrderStatusFailed
	default:
		return enums.OrderStatusPending
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares the provided hex signature against the expected MAC in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	expected, _ := hex.DecodeString(Sign(secret, body))
	return hmac.Equal(provided, expected)
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal "+op+" request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.baseURL, "/")+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build "+op+" request")
	}
	req.Header.Set("x-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute "+op+" request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeRemote, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), op+" failed")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeRemote, err, "decode "+op+" response")
	}
	return nil
}
