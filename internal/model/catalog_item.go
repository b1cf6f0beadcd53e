package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CatalogItem is the local replica of a catalog service entry. The core only
// reads it through catalog snapshots; CRUD belongs to the catalog service.
type CatalogItem struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Code          string          `gorm:"size:64;uniqueIndex;not null" json:"saree_code"`
	Name          string          `gorm:"size:128" json:"name"`
	Fabric        string          `gorm:"size:64" json:"fabric"`
	Color         string          `gorm:"size:64" json:"color"`
	Price         decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"price"`
	StockQuantity int64           `gorm:"not null;default:0" json:"stock_quantity"`
}

func (CatalogItem) TableName() string { return "catalog_items" }
