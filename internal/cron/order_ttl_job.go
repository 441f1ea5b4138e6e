package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-autopilot/internal/orders"
	"github.com/angelmondragon/storefront-autopilot/pkg/enums"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
	"go.uber.org/multierr"
)

const defaultPendingTTL = 24 * time.Hour

type pendingOrderStore interface {
	List(ctx context.Context) ([]orders.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status enums.OrderStatus) (*orders.Order, error)
}

// OrderTTLJobParams configure pending order expiry.
type OrderTTLJobParams struct {
	Logger     *logger.Logger
	Store      pendingOrderStore
	PendingTTL time.Duration
}

func NewOrderTTLJob(params OrderTTLJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("order store required")
	}
	ttl := params.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	return &orderTTLJob{
		logg:  params.Logger,
		store: params.Store,
		ttl:   ttl,
		now:   time.Now,
	}, nil
}

type orderTTLJob struct {
	logg  *logger.Logger
	store pendingOrderStore
	ttl   time.Duration
	now   func() time.Time
}

func (j *orderTTLJob) Name() string { return "order-ttl" }

// Run expires pending orders created before now-ttl. Stores that cannot
// enumerate orders are skipped.
func (j *orderTTLJob) Run(ctx context.Context) error {
	all, err := j.store.List(ctx)
	if err != nil {
		if errors.Is(err, orders.ErrListUnsupported) {
			j.logg.Info(ctx, "order store cannot list orders; skipping expiry")
			return nil
		}
		return fmt.Errorf("list orders: %w", err)
	}

	cutoff := j.now().UTC().Add(-j.ttl)
	var (
		errs    []error
		expired int
	)
	for _, order := range all {
		if order.Status != enums.OrderStatusPending || !order.CreatedAt.Before(cutoff) {
			continue
		}
		if _, err := j.store.UpdateStatus(ctx, order.OrderID, enums.OrderStatusExpired); err != nil {
			errs = append(errs, fmt.Errorf("expire %s: %w", order.OrderID, err))
			continue
		}
		expired++
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"expired": expired,
		"failed":  len(errs),
		"cutoff":  cutoff,
	}), "pending order expiry complete")
	return multierr.Combine(errs...)
}
