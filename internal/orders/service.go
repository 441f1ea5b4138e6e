package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/storefront-autopilot/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-autopilot/pkg/errors"
	"github.com/angelmondragon/storefront-autopilot/pkg/gateway"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
	"github.com/shopspring/decimal"
)

// Gateway is the payment provider surface used by checkout.
type Gateway interface {
	Start(ctx context.Context, params gateway.StartParams) (*gateway.StartResult, error)
	Check(ctx context.Context, paymentID string) (enums.OrderStatus, error)
}

// PriceLookup resolves the listed price of a product. ok is false when the
// product carries no price and the caller-supplied amount should be used.
type PriceLookup interface {
	PriceFor(ctx context.Context, productID string) (amount decimal.Decimal, currency string, ok bool, err error)
}

// ServiceParams wires the checkout service.
type ServiceParams struct {
	Store           Store
	Gateway         Gateway
	Prices          PriceLookup
	Logger          *logger.Logger
	Provider        string
	DefaultCurrency string
}

// Service drives orders through checkout and provider status updates.
type Service struct {
	store    Store
	gateway  Gateway
	prices   PriceLookup
	logg     *logger.Logger
	provider string
	currency string
}

// StartCheckoutInput is the normalized checkout request.
type StartCheckoutInput struct {
	ProductID   string
	Amount      decimal.Decimal
	Currency    string
	CallbackURL string
	SuccessURL  string
	Meta        map[string]string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("order store required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	currency := strings.ToLower(strings.TrimSpace(params.DefaultCurrency))
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		store:    params.Store,
		gateway:  params.Gateway,
		prices:   params.Prices,
		logg:     params.Logger,
		provider: params.Provider,
		currency: currency,
	}, nil
}

// Store exposes the underlying order store.
func (s *Service) Store() Store {
	return s.store
}

// StartCheckout opens a gateway invoice and records the pending order.
func (s *Service) StartCheckout(ctx context.Context, input StartCheckoutInput) (*Order, error) {
	productID := strings.TrimSpace(input.ProductID)
	if productID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product_id is required")
	}
	ctx = s.logg.WithProductID(ctx, productID)

	amount, currency, err := s.resolvePrice(ctx, productID, input.Amount, input.Currency)
	if err != nil {
		return nil, err
	}

	orderID := NewOrderID()
	ctx = s.logg.WithOrderID(ctx, orderID)
	invoice, err := s.gateway.Start(ctx, gateway.StartParams{
		OrderID:     orderID,
		ProductID:   productID,
		Amount:      amount,
		Currency:    currency,
		Description: "product " + productID,
		CallbackURL: input.CallbackURL,
		SuccessURL:  input.SuccessURL,
	})
	if err != nil {
		s.logg.Error(ctx, "gateway start failed", err)
		return nil, err
	}

	order, err := s.store.Create(ctx, &Order{
		OrderID:            orderID,
		ProductID:          productID,
		Amount:             amount,
		Currency:           currency,
		Provider:           s.provider,
		ProviderPaymentID:  invoice.PaymentID,
		ProviderInvoiceURL: invoice.InvoiceURL,
		Meta:               input.Meta,
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(ctx, "checkout started")
	return order, nil
}

// SyncStatus polls the gateway for a pending order and records the result.
func (s *Service) SyncStatus(ctx context.Context, orderID string) (*Order, error) {
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusPending || order.ProviderPaymentID == "" {
		return order, nil
	}
	ctx = s.logg.WithOrderID(ctx, orderID)

	status, err := s.gateway.Check(ctx, order.ProviderPaymentID)
	if err != nil {
		s.logg.Warn(ctx, "gateway status check failed: "+err.Error())
		return nil, err
	}
	return s.ApplyProviderStatus(ctx, orderID, status)
}

// MarkPaid records a confirmed payment.
func (s *Service) MarkPaid(ctx context.Context, orderID string) (*Order, error) {
	return s.ApplyProviderStatus(ctx, orderID, enums.OrderStatusPaid)
}

// ApplyProviderStatus records a provider-reported status. A paid order moving
// to failed is a refund or chargeback and is forced past the transition table.
func (s *Service) ApplyProviderStatus(ctx context.Context, orderID string, status enums.OrderStatus) (*Order, error) {
	current, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"order_id": orderID, "from": current.Status, "to": status})

	switch {
	case current.Status.CanTransition(status):
		updated, err := s.store.UpdateStatus(ctx, orderID, status)
		if err != nil {
			return nil, err
		}
		if current.Status != status {
			s.logg.Info(ctx, "order status updated")
		}
		return updated, nil
	case current.Status == enums.OrderStatusPaid && status == enums.OrderStatusFailed:
		s.logg.Warn(ctx, "paid order reversed by provider")
		return s.store.ForceStatus(ctx, orderID, status)
	default:
		s.logg.Info(ctx, "ignoring provider status for settled order")
		return current, nil
	}
}

func (s *Service) resolvePrice(ctx context.Context, productID string, requested decimal.Decimal, currency string) (decimal.Decimal, string, error) {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = s.currency
	}
	if s.prices == nil {
		if !requested.IsPositive() {
			return decimal.Zero, "", pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
		}
		return requested, currency, nil
	}

	listed, listedCurrency, ok, err := s.prices.PriceFor(ctx, productID)
	if err != nil {
		return decimal.Zero, "", err
	}
	if !ok {
		if !requested.IsPositive() {
			return decimal.Zero, "", pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
		}
		return requested, currency, nil
	}
	if listedCurrency != "" {
		currency = strings.ToLower(listedCurrency)
	}
	if !requested.IsZero() && !requested.Equal(listed) {
		return decimal.Zero, "", pkgerrors.New(pkgerrors.CodeValidation, "amount does not match product price").
			WithDetails(map[string]any{"product_id": productID, "price": listed.String()})
	}
	return listed, currency, nil
}
