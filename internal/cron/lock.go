package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-autopilot/pkg/instance"
)

const defaultLockTTL = 2 * time.Hour

// Lock keeps two schedulers from running a cycle at the same time.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type leaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DeleteIfValue(ctx context.Context, key, expected string) (bool, error)
}

// RedisLock is a TTL lease: a crashed holder frees it on expiry, and release
// is a compare-and-delete so a holder whose lease already expired cannot
// free a successor's.
type RedisLock struct {
	store leaseStore
	key   string
	ttl   time.Duration
	token string
	held  bool
}

func NewRedisLock(store leaseStore, key string, ttl time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("lease store required")
	}
	if key == "" {
		return nil, errors.New("lease key required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{
		store: store,
		key:   key,
		ttl:   ttl,
		token: fmt.Sprintf("%s/%s", instance.GetID(), uuid.NewString()),
	}, nil
}

// Owner is the value written into the lease key.
func (l *RedisLock) Owner() string { return l.token }

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.store.SetNX(ctx, l.key, l.token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	l.held = ok
	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}
	l.held = false
	if _, err := l.store.DeleteIfValue(ctx, l.key, l.token); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

// NoopLock always grants the lease. With it, overlapping runs across
// processes are possible.
type NoopLock struct{}

func (NoopLock) Acquire(context.Context) (bool, error) { return true, nil }

func (NoopLock) Release(context.Context) error { return nil }
