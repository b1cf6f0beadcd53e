package catalog

import (
	"context"
	"fmt"
	"os"

	"live_commerce/internal/model"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeedItem is one entry of a catalog seed file:
//
//	items:
//	  - code: SKU-101
//	    name: Kanjivaram silk
//	    price: "4500"
//	    stock: 3
type SeedItem struct {
	Code   string `yaml:"code"`
	Name   string `yaml:"name"`
	Fabric string `yaml:"fabric"`
	Color  string `yaml:"color"`
	Price  string `yaml:"price"`
	Stock  int64  `yaml:"stock"`
}

type seedFile struct {
	Items []SeedItem `yaml:"items"`
}

// LoadSeedFile parses a YAML seed file.
func LoadSeedFile(path string) ([]model.CatalogItem, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f seedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	out := make([]model.CatalogItem, 0, len(f.Items))
	seen := make(map[string]string, len(f.Items))
	for i, it := range f.Items {
		key := Key(it.Code)
		if key == "" {
			return nil, fmt.Errorf("seed item %d: code is required", i)
		}
		if prev, ok := seen[key]; ok {
			return nil, fmt.Errorf("seed item %s: code collides with %s", it.Code, prev)
		}
		seen[key] = it.Code
		price, err := decimal.NewFromString(it.Price)
		if err != nil {
			return nil, fmt.Errorf("seed item %s: invalid price %q", it.Code, it.Price)
		}
		if price.IsNegative() || it.Stock < 0 {
			return nil, fmt.Errorf("seed item %s: price and stock must be >= 0", it.Code)
		}
		out = append(out, model.CatalogItem{
			Code:          it.Code,
			Name:          it.Name,
			Fabric:        it.Fabric,
			Color:         it.Color,
			Price:         price,
			StockQuantity: it.Stock,
		})
	}
	return out, nil
}

// Seed upserts items by code.
func Seed(ctx context.Context, db *gorm.DB, items []model.CatalogItem) error {
	if len(items) == 0 {
		return nil
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "fabric", "color", "price", "stock_quantity", "updated_at"}),
	}).Create(&items).Error
}
