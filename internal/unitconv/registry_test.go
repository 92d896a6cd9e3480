package unitconv

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"吨", "t"},
		{"公斤", "kg"},
		{"M2", "m²"},
		{"立方米", "m³"},
		{"㎡", "m²"},
		{" KG ", "kg"},
		{"只", "个"},
		{"根", "根"}, // unknown units pass through
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestCanConvert(t *testing.T) {
	assert.True(t, CanConvert("kg", "t"))
	assert.True(t, CanConvert("公斤", "吨"))
	assert.True(t, CanConvert("m2", "cm²"))
	assert.False(t, CanConvert("kg", "m"), "mass and length never convert")
	assert.False(t, CanConvert("件", "个"), "count units convert only to themselves")
	assert.True(t, CanConvert("个", "只"))
	assert.False(t, CanConvert("", "kg"))
	assert.False(t, CanConvert("根", "个"), "unknown unit has no family")
}

func TestFactor(t *testing.T) {
	f, ok := Factor("t", "kg")
	require.True(t, ok)
	assert.True(t, f.Equal(decimal.NewFromInt(1000)))

	f, ok = Factor("kg", "t")
	require.True(t, ok)
	assert.True(t, f.Equal(decimal.RequireFromString("0.001")))

	_, ok = Factor("kg", "m³")
	assert.False(t, ok)
}

func TestConvertQuantity(t *testing.T) {
	q, ok := ConvertQuantity(decimal.NewFromInt(3), "t", "kg")
	require.True(t, ok)
	assert.True(t, q.Equal(decimal.NewFromInt(3000)))
}

func TestConvertUnitPrice(t *testing.T) {
	// 4 yuan per kg is 4000 yuan per tonne.
	p, ok := ConvertUnitPrice(decimal.NewFromInt(4), "kg", "t")
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(4000)))

	// 4000 yuan per tonne is 4 yuan per kg.
	p, ok = ConvertUnitPrice(decimal.NewFromInt(4000), "t", "kg")
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(4)))

	_, ok = ConvertUnitPrice(decimal.NewFromInt(10), "kg", "m")
	assert.False(t, ok)
}
