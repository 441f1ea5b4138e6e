package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-autopilot/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-autopilot/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const orderIDPrefix = "ord_"

var (
	// ErrOrderNotFound is returned when no record exists for an order id.
	ErrOrderNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	// ErrListUnsupported is returned by backends that cannot enumerate orders.
	ErrListUnsupported = pkgerrors.New(pkgerrors.CodeUnsupported, "listing orders is not supported by this store")
)

// Order is a single checkout attempt for one product.
type Order struct {
	OrderID            string            `json:"order_id"`
	ProductID          string            `json:"product_id"`
	Amount             decimal.Decimal   `json:"amount"`
	Currency           string            `json:"currency"`
	Status             enums.OrderStatus `json:"status"`
	Provider           string            `json:"provider,omitempty"`
	ProviderPaymentID  string            `json:"provider_payment_id,omitempty"`
	ProviderInvoiceURL string            `json:"provider_invoice_url,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	Meta               map[string]string `json:"meta,omitempty"`
}

// Store persists orders. Implementations are read-modify-write without
// optimistic locking: concurrent writers resolve as last-writer-wins.
type Store interface {
	Create(ctx context.Context, order *Order) (*Order, error)
	Get(ctx context.Context, orderID string) (*Order, error)
	UpdateStatus(ctx context.Context, orderID string, status enums.OrderStatus) (*Order, error)
	ForceStatus(ctx context.Context, orderID string, status enums.OrderStatus) (*Order, error)
	UpdateProvider(ctx context.Context, orderID, provider, paymentID, invoiceURL string) (*Order, error)
	List(ctx context.Context) ([]Order, error)
}

// NewOrderID returns an opaque unique order token.
func NewOrderID() string {
	return orderIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// prepareNew validates a new order and stamps the fields every backend owns.
func prepareNew(in *Order, now time.Time) (*Order, error) {
	if in == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	if !in.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
	}
	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "currency is required")
	}
	if strings.TrimSpace(in.ProductID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}

	order := in.clone()
	if strings.TrimSpace(order.OrderID) == "" {
		order.OrderID = NewOrderID()
	}
	order.Currency = currency
	order.Status = enums.OrderStatusPending
	order.CreatedAt = now
	order.UpdatedAt = now
	return order, nil
}

// applyStatus moves order to next. Regular updates follow the transition
// table; forced updates only require a known status.
func applyStatus(order *Order, next enums.OrderStatus, force bool, now time.Time) (bool, error) {
	if !next.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", next))
	}
	if order.Status == next {
		return false, nil
	}
	if !force && !order.Status.CanTransition(next) {
		return false, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order cannot move from %s to %s", order.Status, next)).
			WithDetails(map[string]any{"order_id": order.OrderID, "from": order.Status, "to": next})
	}
	order.Status = next
	order.UpdatedAt = now
	return true, nil
}

func applyProvider(order *Order, provider, paymentID, invoiceURL string, now time.Time) bool {
	changed := false
	if provider != "" && provider != order.Provider {
		order.Provider = provider
		changed = true
	}
	if paymentID != "" && paymentID != order.ProviderPaymentID {
		order.ProviderPaymentID = paymentID
		changed = true
	}
	if invoiceURL != "" && invoiceURL != order.ProviderInvoiceURL {
		order.ProviderInvoiceURL = invoiceURL
		changed = true
	}
	if changed {
		order.UpdatedAt = now
	}
	return changed
}

func (o *Order) clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	if o.Meta != nil {
		cp.Meta = make(map[string]string, len(o.Meta))
		for k, v := range o.Meta {
			cp.Meta[k] = v
		}
	}
	return &cp
}

func requireOrderID(orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	return nil
}
