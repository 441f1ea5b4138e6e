package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/storefront-autopilot/pkg/db/models"
	dbtypes "github.com/angelmondragon/storefront-autopilot/pkg/db/types"
	"github.com/angelmondragon/storefront-autopilot/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-autopilot/pkg/errors"
	"gorm.io/gorm"
)

// ErrProductNotFound is returned when the ledger holds no product for an id.
var ErrProductNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "product not found")

// Repository manages persistence for product records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, product *models.Product) error
	FindByID(ctx context.Context, id string) (*models.Product, error)
	List(ctx context.Context, limit int) ([]models.Product, error)
	Update(ctx context.Context, id string, status enums.ProductStatus, metadata dbtypes.JSONMap, at time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a product repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, product *models.Product) error {
	if product.Metadata == nil {
		product.Metadata = dbtypes.JSONMap{}
	}
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *repository) FindByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find product")
	}
	return &product, nil
}

func (r *repository) List(ctx context.Context, limit int) ([]models.Product, error) {
	query := r.db.WithContext(ctx).Order("created_at ASC").Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var products []models.Product
	if err := query.Find(&products).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list products")
	}
	return products, nil
}

func (r *repository) Update(ctx context.Context, id string, status enums.ProductStatus, metadata dbtypes.JSONMap, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"metadata":   metadata,
			"updated_at": at,
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update product")
	}
	if res.RowsAffected == 0 {
		return ErrProductNotFound
	}
	return nil
}
