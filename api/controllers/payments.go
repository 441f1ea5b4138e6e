package controllers

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/angelmondragon/storefront-autopilot/api/responses"
	"github.com/angelmondragon/storefront-autopilot/api/validators"
	"github.com/angelmondragon/storefront-autopilot/internal/downloads"
	"github.com/angelmondragon/storefront-autopilot/internal/orders"
	gatewaywebhook "github.com/angelmondragon/storefront-autopilot/internal/webhooks/gateway"
	pkgerrors "github.com/angelmondragon/storefront-autopilot/pkg/errors"
	"github.com/angelmondragon/storefront-autopilot/pkg/gateway"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
	"github.com/angelmondragon/storefront-autopilot/pkg/metrics"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
)

const (
	maxIDLength      = 128
	maxTokenLength   = 2048
	maxWebhookBytes  = 64 << 10
	downloadEndpoint = "/api/pay/download"
)

type checkoutService interface {
	StartCheckout(ctx context.Context, input orders.StartCheckoutInput) (*orders.Order, error)
	SyncStatus(ctx context.Context, orderID string) (*orders.Order, error)
}

type notificationHandler interface {
	Handle(ctx context.Context, body []byte, signature string) (*gatewaywebhook.Result, error)
}

type tokenService interface {
	Issue(ctx context.Context, orderID string) (downloads.Token, error)
	Validate(ctx context.Context, value string) (downloads.Grant, error)
}

type deliverableOpener interface {
	Open(productID string) (afero.File, os.FileInfo, error)
	FileName() string
}

// StartRequest is the checkout request after normalization. GET callers pass
// the fields as query parameters, POST callers as a JSON body.
type StartRequest struct {
	ProductID  string          `json:"product_id" validate:"required,product_ref"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency" validate:"omitempty,currency"`
	SuccessURL string          `json:"success_url" validate:"omitempty,url,max=2048"`
}

// StartResponse is returned to the storefront widget.
type StartResponse struct {
	OrderID    string `json:"order_id"`
	PaymentID  string `json:"payment_id,omitempty"`
	InvoiceURL string `json:"invoice_url"`
	Status     string `json:"status"`
}

// DecodeStartRequest normalizes query or body input into a validated StartRequest.
func DecodeStartRequest(r *http.Request) (StartRequest, error) {
	var req StartRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req.ProductID = q.Get("product_id")
		req.Currency = q.Get("currency")
		req.SuccessURL = q.Get("success_url")
		if raw := strings.TrimSpace(q.Get("amount")); raw != "" {
			amount, err := decimal.NewFromString(raw)
			if err != nil {
				return req, pkgerrors.New(pkgerrors.CodeValidation, "amount must be numeric").WithDetails(map[string]any{"field": "amount"})
			}
			req.Amount = amount
		}
	} else if err := validators.DecodeJSONBody(r, &req); err != nil {
		return req, err
	}

	req.ProductID = validators.SanitizeString(req.ProductID, 0)
	req.Currency = validators.NormalizeCurrency(req.Currency)
	req.SuccessURL = validators.SanitizeString(req.SuccessURL, 0)
	if req.Amount.IsNegative() {
		return req, pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative").WithDetails(map[string]any{"field": "amount"})
	}
	if err := validators.ValidateStruct(req); err != nil {
		return req, err
	}
	return req, nil
}

// PayStart opens a gateway invoice for a product. callbackURL is where the
// gateway posts status notifications; empty leaves the gateway default.
func PayStart(svc checkoutService, callbackURL string, m *metrics.PaymentMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		req, err := DecodeStartRequest(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.StartCheckout(ctx, orders.StartCheckoutInput{
			ProductID:   req.ProductID,
			Amount:      req.Amount,
			Currency:    req.Currency,
			CallbackURL: callbackURL,
			SuccessURL:  req.SuccessURL,
			Meta:        map[string]string{"source": strings.ToLower(r.Method)},
		})
		if err != nil {
			m.IncCheckout("failed")
			responses.WriteError(ctx, logg, w, err)
			return
		}
		m.IncCheckout("started")

		responses.WriteSuccess(w, StartResponse{
			OrderID:    order.OrderID,
			PaymentID:  order.ProviderPaymentID,
			InvoiceURL: order.ProviderInvoiceURL,
			Status:     string(order.Status),
		})
	}
}

// PayStatus syncs a pending order with the gateway and reports its status.
func PayStatus(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		orderID, err := validators.RequireQuery(r, "order_id", maxIDLength)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.SyncStatus(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{
			"order_id": order.OrderID,
			"status":   string(order.Status),
		})
	}
}

// PayWebhook applies a signed gateway notification.
func PayWebhook(handler notificationHandler, m *metrics.PaymentMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if handler == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}
		if len(payload) > maxWebhookBytes {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "notification body too large"))
			return
		}

		signature := strings.TrimSpace(r.Header.Get(gateway.SignatureHeader))
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature missing"))
			return
		}

		result, err := handler.Handle(ctx, payload, signature)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if result.Duplicate {
			m.IncNotification("duplicate")
		} else {
			m.IncNotification(string(result.Status))
		}
		responses.WriteSuccess(w, result)
	}
}

// PayToken issues a download token for a paid order.
func PayToken(tokens tokenService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if tokens == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "token service unavailable"))
			return
		}

		orderID, err := validators.RequireQuery(r, "order_id", maxIDLength)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		token, err := tokens.Issue(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"token":        token.Value,
			"expires_at":   token.ExpiresAt,
			"download_url": downloadEndpoint + "?token=" + token.Value,
		})
	}
}

// PayDownload streams the deliverable named by a valid token.
func PayDownload(tokens tokenService, files deliverableOpener, m *metrics.PaymentMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if tokens == nil || files == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "download service unavailable"))
			return
		}

		value, err := validators.RequireQuery(r, "token", maxTokenLength)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		grant, err := tokens.Validate(ctx, value)
		if err != nil {
			m.IncDownload("denied")
			responses.WriteError(ctx, logg, w, err)
			return
		}

		file, info, err := files.Open(grant.ProductID)
		if err != nil {
			m.IncDownload("missing")
			responses.WriteError(ctx, logg, w, err)
			return
		}
		defer file.Close()

		name := files.FileName()
		contentType := mime.TypeByExtension(filepath.Ext(name))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		w.Header().Set("Cache-Control", "no-store")

		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"order_id": grant.OrderID, "product_id": grant.ProductID})
			logg.Info(ctx, "download served")
		}
		m.IncDownload("served")
		http.ServeContent(w, r, name, info.ModTime(), file)
	}
}
