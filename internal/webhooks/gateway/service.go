// Package gatewaywebhook applies payment gateway notifications to orders.
package gatewaywebhook

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/storefront-autopilot/internal/orders"
	"github.com/angelmondragon/storefront-autopilot/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-autopilot/pkg/errors"
	"github.com/angelmondragon/storefront-autopilot/pkg/gateway"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
	"github.com/tidwall/gjson"
)

// IdempotencyScope namespaces processed notification keys.
const IdempotencyScope = "gateway-ipn"

type orderUpdater interface {
	ApplyProviderStatus(ctx context.Context, orderID string, status enums.OrderStatus) (*orders.Order, error)
}

type ServiceParams struct {
	Orders orderUpdater
	Secret string
	Guard  *IdempotencyGuard
	Logger *logger.Logger
}

type Service struct {
	orders orderUpdater
	secret string
	guard  *IdempotencyGuard
	logg   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order service required")
	}
	if strings.TrimSpace(params.Secret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook secret required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		orders: params.Orders,
		secret: params.Secret,
		guard:  params.Guard,
		logg:   params.Logger,
	}, nil
}

// Notification is the part of a gateway callback the order flow needs.
type Notification struct {
	OrderID        string
	PaymentID      string
	ProviderStatus string
	Status         enums.OrderStatus
}

// Result reports what a delivery did.
type Result struct {
	OrderID   string            `json:"order_id"`
	Status    enums.OrderStatus `json:"status"`
	Duplicate bool              `json:"duplicate"`
}

// ParseNotification reads the callback body. Ids may arrive as numbers.
func ParseNotification(body []byte) (*Notification, error) {
	if !gjson.ValidBytes(body) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "malformed notification body")
	}
	fields := gjson.GetManyBytes(body, "order_id", "payment_id", "payment_status")
	n := &Notification{
		OrderID:        strings.TrimSpace(fields[0].String()),
		PaymentID:      strings.TrimSpace(fields[1].String()),
		ProviderStatus: strings.TrimSpace(fields[2].String()),
	}
	if n.OrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order_id is required")
	}
	if n.ProviderStatus == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment_status is required")
	}
	n.Status = gateway.MapStatus(n.ProviderStatus)
	return n, nil
}

// Handle verifies the signature over the raw body and applies the status.
// Redeliveries of the same order/status pair are acknowledged without effect.
func (s *Service) Handle(ctx context.Context, body []byte, signature string) (*Result, error) {
	if !gateway.VerifySignature(s.secret, body, signature) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
	}
	n, err := ParseNotification(body)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id":        n.OrderID,
		"payment_id":      n.PaymentID,
		"provider_status": n.ProviderStatus,
	})

	eventID := fmt.Sprintf("%s:%s", n.OrderID, n.Status)
	if s.guard != nil {
		seen, err := s.guard.CheckAndMark(ctx, eventID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency check")
		}
		if seen {
			s.logg.Info(ctx, "duplicate gateway notification")
			return &Result{OrderID: n.OrderID, Status: n.Status, Duplicate: true}, nil
		}
	}

	order, err := s.orders.ApplyProviderStatus(ctx, n.OrderID, n.Status)
	if err != nil {
		if s.guard != nil {
			if delErr := s.guard.Delete(ctx, eventID); delErr != nil {
				s.logg.Error(ctx, "failed to release idempotency key", delErr)
			}
		}
		return nil, err
	}
	return &Result{OrderID: order.OrderID, Status: order.Status}, nil
}
