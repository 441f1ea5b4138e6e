package models

import (
	"time"

	dbtypes "github.com/angelmondragon/storefront-autopilot/pkg/db/types"
	"github.com/angelmondragon/storefront-autopilot/pkg/enums"
)

// Product is a catalog entry in the product ledger.
type Product struct {
	ID        string              `gorm:"column:id;primaryKey"`
	Title     string              `gorm:"column:title;not null"`
	Status    enums.ProductStatus `gorm:"column:status;not null;default:DRAFT;index"`
	Metadata  dbtypes.JSONMap     `gorm:"column:metadata;type:text;not null"`
	CreatedAt time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the table name used by migrations.
func (Product) TableName() string {
	return "products"
}
