package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"I want SKU-101!", []string{"i", "want", "sku101"}},
		{"ＳＫＵ－１０１", []string{"sku101"}},
		{"  multiple   spaces\tand\nlines ", []string{"multiple", "spaces", "and", "lines"}},
		{"🔥🔥 sku_101 🔥", []string{"sku101"}},
		{"STRASSE straße", []string{"strasse", "strasse"}},
		{"!!! ...", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.in))
		})
	}
}

func TestKeyAndNormalize(t *testing.T) {
	assert.Equal(t, "sku101", Key("SKU-101"))
	assert.Equal(t, "sku101", Key("sku 101"))
	assert.Equal(t, Key("SKU-101"), Key("ｓｋｕ101"))
	assert.Equal(t, "want sku101 now", Normalize("Want  SKU-101, now!"))
}
