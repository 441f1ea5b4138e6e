package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-autopilot/pkg/db/models"
	"github.com/angelmondragon/storefront-autopilot/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-autopilot/pkg/errors"
	"github.com/angelmondragon/storefront-autopilot/pkg/logger"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Product is the ledger record with its metadata decoded.
type Product struct {
	ID        string
	Title     string
	Status    enums.ProductStatus
	Metadata  Metadata
	Raw       map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ServiceParams wires the ledger service.
type ServiceParams struct {
	Repo   Repository
	Tx     txRunner
	Logger *logger.Logger
}

// Service exposes the ledger access contract used by the heal loop and checkout.
type Service struct {
	repo Repository
	tx   txRunner
	logg *logger.Logger
	now  func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{repo: params.Repo, tx: params.Tx, logg: params.Logger, now: time.Now}, nil
}

// CreateProductInput registers a product produced by the generation pipeline.
type CreateProductInput struct {
	ID       string
	Title    string
	Status   enums.ProductStatus
	Metadata map[string]any
}

func (s *Service) CreateProduct(ctx context.Context, input CreateProductInput) (*Product, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	status := input.Status
	if status == "" {
		status = enums.ProductStatusDraft
	}
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid product status %q", status))
	}
	record := &models.Product{
		ID:       id,
		Title:    strings.TrimSpace(input.Title),
		Status:   status,
		Metadata: input.Metadata,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create product")
	}
	return toProduct(record), nil
}

// ListProducts returns up to limit products, oldest first.
func (s *Service) ListProducts(ctx context.Context, limit int) ([]Product, error) {
	records, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Product, 0, len(records))
	for i := range records {
		out = append(out, *toProduct(&records[i]))
	}
	return out, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (*Product, error) {
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return toProduct(record), nil
}

// UpdateProduct shallow-merges metadata and applies status when the state
// machine allows an automated move. A refused status change is logged and the
// metadata merge still lands.
func (s *Service) UpdateProduct(ctx context.Context, id string, status *enums.ProductStatus, metadata map[string]any) (*Product, error) {
	if status != nil && !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid product status %q", *status))
	}
	ctx = s.logg.WithProductID(ctx, id)

	var updated *models.Product
	apply := func(repo Repository) error {
		record, err := repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		next := record.Status
		if status != nil {
			if record.Status.CanTransitionAutomatically(*status) {
				next = *status
			} else {
				s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"from": record.Status, "to": *status}), "refusing automated status change")
			}
		}
		merged := record.Metadata.Merge(metadata)
		at := s.now().UTC()
		if err := repo.Update(ctx, id, next, merged, at); err != nil {
			return err
		}
		record.Status = next
		record.Metadata = merged
		record.UpdatedAt = at
		updated = record
		return nil
	}

	if s.tx == nil {
		if err := apply(s.repo); err != nil {
			return nil, err
		}
	} else if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return apply(s.repo.WithTx(tx))
	}); err != nil {
		return nil, err
	}
	return toProduct(updated), nil
}

// PriceFor reports the listed price of a product for checkout.
func (s *Service) PriceFor(ctx context.Context, productID string) (decimal.Decimal, string, bool, error) {
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return decimal.Zero, "", false, err
	}
	if !product.Metadata.Pricing.Price.IsPositive() {
		return decimal.Zero, "", false, nil
	}
	return product.Metadata.Pricing.Price, product.Metadata.Pricing.Currency, true, nil
}

func toProduct(record *models.Product) *Product {
	raw := map[string]any(record.Metadata)
	if raw == nil {
		raw = map[string]any{}
	}
	return &Product{
		ID:        record.ID,
		Title:     record.Title,
		Status:    record.Status,
		Metadata:  ParseMetadata(raw),
		Raw:       raw,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}
