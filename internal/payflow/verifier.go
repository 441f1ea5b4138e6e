// Package payflow probes a live storefront's payment API end to end.
package payflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	startPath                 = "/api/pay/start"
	responseBodyLimit   int64 = 64 * 1024
	detailsBodyMaxBytes       = 512
)

var (
	orderIDFields    = []string{"order_id", "payment_id", "id"}
	invoiceURLFields = []string{"invoice_url", "payment_url"}
)

// Result is the verdict of one probe. Every failure mode folds into OK=false.
type Result struct {
	OK      bool           `json:"ok"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Params configures a Verifier.
type Params struct {
	HTTPClient    *http.Client
	Timeout       time.Duration
	Currency      string
	VerifyInvoice bool
	Logger        *logger.Logger
}

// Verifier issues a real checkout start against a deployment.
type Verifier struct {
	httpClient    *http.Client
	currency      string
	verifyInvoice bool
	logg          *logger.Logger
}

func NewVerifier(params Params) (*Verifier, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	client := params.HTTPClient
	if client == nil {
		timeout := params.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &Verifier{
		httpClient:    client,
		currency:      currency,
		verifyInvoice: params.VerifyInvoice,
		logg:          params.Logger,
	}, nil
}

// Verify starts a checkout for productID at baseURL and checks the response
// carries an order id and an invoice url.
func (v *Verifier) Verify(ctx context.Context, productID, baseURL string, price decimal.Decimal) Result {
	ctx = v.logg.WithFields(ctx, map[string]any{"product_id": productID, "base_url": baseURL})
	result := v.verify(ctx, productID, baseURL, price)
	if result.OK {
		v.logg.Info(ctx, "payment flow verified")
	} else {
		v.logg.Warn(ctx, "payment flow verification failed: "+result.Message)
	}
	return result
}

func (v *Verifier) verify(ctx context.Context, productID, baseURL string, price decimal.Decimal) Result {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return fail("missing base url", nil)
	}
	if !price.IsPositive() {
		return fail("price must be greater than zero", nil)
	}

	payload, err := json.Marshal(map[string]any{
		"product_id": productID,
		"amount":     price.InexactFloat64(),
		"currency":   v.currency,
	})
	if err != nil {
		return fail("encode request: "+err.Error(), nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+startPath, bytes.NewReader(payload))
	if err != nil {
		return fail("build request: "+err.Error(), nil)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fail("payment start unreachable: "+err.Error(), nil)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return fail("read response: "+err.Error(), map[string]any{"status_code": resp.StatusCode})
	}
	details := map[string]any{
		"status_code": resp.StatusCode,
		"body":        truncate(string(body), detailsBodyMaxBytes),
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(fmt.Sprintf("payment start returned status %d", resp.StatusCode), details)
	}
	if !gjson.ValidBytes(body) {
		return fail("payment start returned malformed json", details)
	}

	orderID := firstString(body, orderIDFields)
	invoiceURL := firstString(body, invoiceURLFields)
	if orderID == "" {
		return fail("payment start response missing order id", details)
	}
	if invoiceURL == "" {
		return fail("payment start response missing invoice url", details)
	}
	details["order_id"] = orderID
	details["invoice_url"] = invoiceURL

	if v.verifyInvoice {
		if msg := v.checkInvoice(ctx, invoiceURL); msg != "" {
			return fail(msg, details)
		}
		details["invoice_reachable"] = true
	}
	return Result{OK: true, Message: "payment flow ok", Details: details}
}

func (v *Verifier) checkInvoice(ctx context.Context, invoiceURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, invoiceURL, nil)
	if err != nil {
		return "invalid invoice url: " + err.Error()
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "invoice unreachable: " + err.Error()
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, responseBodyLimit))
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("invoice returned status %d", resp.StatusCode)
	}
	return ""
}

func firstString(body []byte, fields []string) string {
	for _, field := range fields {
		value := gjson.GetBytes(body, field)
		if !value.Exists() || value.Type == gjson.Null {
			continue
		}
		if s := strings.TrimSpace(value.String()); s != "" {
			return s
		}
	}
	return ""
}

func fail(message string, details map[string]any) Result {
	return Result{OK: false, Message: message, Details: details}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
