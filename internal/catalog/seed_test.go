package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"live_commerce/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSeedFile(t *testing.T) {
	path := writeSeed(t, `
items:
  - code: SKU-101
    name: Kanjivaram silk
    fabric: silk
    color: maroon
    price: "4500.00"
    stock: 3
  - code: SKU-202
    name: Banarasi georgette
    price: "2200.50"
    stock: 0
`)
	items, err := LoadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "SKU-101", items[0].Code)
	assert.True(t, items[1].Price.Equal(decimal.RequireFromString("2200.5")))
	assert.Equal(t, int64(0), items[1].StockQuantity)
}

func TestLoadSeedFile_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing code":   "items:\n  - name: x\n    price: \"1\"\n",
		"bad price":      "items:\n  - code: A-1\n    price: abc\n",
		"negative stock": "items:\n  - code: A-1\n    price: \"1\"\n    stock: -1\n",
		"not yaml":       "items: [",
		"colliding code": "items:\n  - code: AB-1\n    price: \"1\"\n  - code: A-B1\n    price: \"2\"\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadSeedFile(writeSeed(t, body))
			assert.Error(t, err)
		})
	}
}

func TestSeedAndGormSource(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.CatalogItem{}))

	ctx := context.Background()
	require.NoError(t, Seed(ctx, db, []model.CatalogItem{
		{Code: "SKU-101", Name: "silk", Price: decimal.NewFromInt(4500), StockQuantity: 3},
	}))
	// upsert by code
	require.NoError(t, Seed(ctx, db, []model.CatalogItem{
		{Code: "SKU-101", Name: "silk", Price: decimal.NewFromInt(4200), StockQuantity: 1},
	}))

	items, err := NewGormSource(db).LoadItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Price.Equal(decimal.NewFromInt(4200)))
	assert.Equal(t, int64(1), items[0].Stock)
}
