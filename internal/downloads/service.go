package downloads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-autopilot/internal/orders"
	"github.com/angelmondragon/storefront-autopilot/pkg/enums"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
)

// OrderReader is the order lookup used at issue and validation time.
type OrderReader interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
}

// ServiceParams wires the token service.
type ServiceParams struct {
	Orders OrderReader
	Secret string
	Issuer string
	TTL    time.Duration
	Logger *logger.Logger
}

// Service issues and validates download tokens. Tokens are not single-use:
// any unexpired token for a still-paid order may be redeemed repeatedly.
type Service struct {
	orders OrderReader
	secret []byte
	issuer string
	ttl    time.Duration
	logg   *logger.Logger
	now    func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("order store required")
	}
	if strings.TrimSpace(params.Secret) == "" {
		return nil, fmt.Errorf("download secret required")
	}
	if params.TTL <= 0 {
		return nil, fmt.Errorf("download token ttl must be positive")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		orders: params.Orders,
		secret: []byte(params.Secret),
		issuer: params.Issuer,
		ttl:    params.TTL,
		logg:   params.Logger,
		now:    time.Now,
	}, nil
}

// Issue mints a token for a paid order.
func (s *Service) Issue(ctx context.Context, orderID string) (Token, error) {
	order, err := s.paidOrder(ctx, orderID)
	if err != nil {
		return Token{}, err
	}
	token, err := mint(s.secret, s.issuer, Grant{OrderID: order.OrderID, ProductID: order.ProductID}, s.now(), s.ttl)
	if err != nil {
		return Token{}, err
	}
	s.logg.Info(s.logg.WithOrderID(ctx, orderID), "download token issued")
	return token, nil
}

// Validate checks signature and expiry, then re-reads the order so a token
// stops working as soon as its order leaves paid.
func (s *Service) Validate(ctx context.Context, value string) (Grant, error) {
	claims, err := parse(s.secret, s.issuer, strings.TrimSpace(value), s.now)
	if err != nil {
		return Grant{}, err
	}
	order, err := s.paidOrder(ctx, claims.OrderID)
	if err != nil {
		return Grant{}, err
	}
	if order.ProductID != claims.ProductID {
		return Grant{}, newTokenError(KindInvalidSignature, claims.OrderID, errors.New("token product does not match order"))
	}
	return Grant{OrderID: claims.OrderID, ProductID: claims.ProductID}, nil
}

func (s *Service) paidOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, newTokenError(KindOrderNotFound, orderID, errors.New("order id is required"))
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			return nil, newTokenError(KindOrderNotFound, orderID, nil)
		}
		return nil, err
	}
	if order.Status != enums.OrderStatusPaid {
		return nil, newTokenError(KindOrderNotPaid, orderID, fmt.Errorf("order status %s", order.Status))
	}
	return order, nil
}
