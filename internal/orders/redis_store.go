package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-autopilot/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-autopilot/pkg/errors"
	pkgredis "github.com/angelmondragon/storefront-autopilot/pkg/redis"
)

// KV is the subset of the redis client used by RedisStore.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	OrderKey(orderID string) string
}

// RedisStore keeps one JSON value per order key. It cannot enumerate orders.
type RedisStore struct {
	kv  KV
	now func() time.Time
}

// NewRedisStore returns a store backed by the remote key/value service.
func NewRedisStore(kv KV) (*RedisStore, error) {
	if kv == nil {
		return nil, fmt.Errorf("redis client required")
	}
	return &RedisStore{kv: kv, now: time.Now}, nil
}

func (s *RedisStore) Create(ctx context.Context, in *Order) (*Order, error) {
	order, err := prepareNew(in, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.put(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *RedisStore) Get(ctx context.Context, orderID string) (*Order, error) {
	if err := requireOrderID(orderID); err != nil {
		return nil, err
	}
	raw, err := s.kv.Get(ctx, s.kv.OrderKey(orderID))
	if err != nil {
		if errors.Is(err, pkgredis.Nil) {
			return nil, ErrOrderNotFound
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read order")
	}
	var order Order
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode order")
	}
	return &order, nil
}

func (s *RedisStore) UpdateStatus(ctx context.Context, orderID string, status enums.OrderStatus) (*Order, error) {
	return s.mutate(ctx, orderID, func(order *Order, now time.Time) (bool, error) {
		return applyStatus(order, status, false, now)
	})
}

func (s *RedisStore) ForceStatus(ctx context.Context, orderID string, status enums.OrderStatus) (*Order, error) {
	return s.mutate(ctx, orderID, func(order *Order, now time.Time) (bool, error) {
		return applyStatus(order, status, true, now)
	})
}

func (s *RedisStore) UpdateProvider(ctx context.Context, orderID, provider, paymentID, invoiceURL string) (*Order, error) {
	return s.mutate(ctx, orderID, func(order *Order, now time.Time) (bool, error) {
		return applyProvider(order, provider, paymentID, invoiceURL, now), nil
	})
}

// List is not available on the remote backend.
func (s *RedisStore) List(ctx context.Context) ([]Order, error) {
	return nil, ErrListUnsupported
}

func (s *RedisStore) mutate(ctx context.Context, orderID string, fn func(*Order, time.Time) (bool, error)) (*Order, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	changed, err := fn(order, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !changed {
		return order, nil
	}
	if err := s.put(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *RedisStore) put(ctx context.Context, order *Order) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode order")
	}
	if err := s.kv.Set(ctx, s.kv.OrderKey(order.OrderID), payload, 0); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write order")
	}
	return nil
}
