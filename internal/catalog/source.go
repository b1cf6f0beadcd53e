package catalog

import (
	"context"

	"live_commerce/internal/model"

	"gorm.io/gorm"
)

// GormSource reads the replicated catalog_items table.
type GormSource struct {
	db *gorm.DB
}

func NewGormSource(db *gorm.DB) *GormSource { return &GormSource{db: db} }

func (s *GormSource) LoadItems(ctx context.Context) ([]Item, error) {
	var rows []model.CatalogItem
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(rows))
	for _, r := range rows {
		out = append(out, Item{
			Code:  r.Code,
			Name:  r.Name,
			Price: r.Price,
			Stock: r.StockQuantity,
		})
	}
	return out, nil
}
