package tax

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freightcontrol/internal/tariff"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculate_DomesticVAT(t *testing.T) {
	res := Calculate(dec("1000"), "FR", "FR", tariff.ModeRoad)
	require.Len(t, res.Items, 1)
	assert.Equal(t, TypeVAT, res.Items[0].Type)
	assert.True(t, res.Items[0].Rate.Equal(dec("20")))
	assert.True(t, res.Items[0].Amount.Equal(dec("200")))
	assert.True(t, res.TotalAmount.Equal(dec("200")))
}

func TestCalculate_ExportTax(t *testing.T) {
	res := Calculate(dec("1000"), "FR", "US", tariff.ModeAir)
	require.Len(t, res.Items, 1)
	assert.Equal(t, TypeExportTax, res.Items[0].Type)
	assert.True(t, res.Items[0].Rate.Equal(dec("0.5")))
	assert.True(t, res.Items[0].Amount.Equal(dec("5")))
	assert.True(t, res.TotalAmount.Equal(dec("5")))
}

func TestCalculate_InternationalRoadIsUntaxed(t *testing.T) {
	res := Calculate(dec("1000"), "FR", "DE", tariff.ModeRoad)
	assert.Empty(t, res.Items)
	assert.True(t, res.TotalAmount.IsZero())
}

func TestCalculate_ZeroVATCountryHasNoItem(t *testing.T) {
	for _, country := range []string{"US", "JP"} {
		res := Calculate(dec("1000"), country, country, tariff.ModeRoad)
		assert.Empty(t, res.Items, country)
		assert.True(t, res.TotalAmount.IsZero(), country)
	}
	assert.Empty(t, Calculate(decimal.Zero, "FR", "FR", tariff.ModeRoad).Items)
}

func TestVATTable(t *testing.T) {
	cases := map[string]string{
		"FR": "20", "de": "19", "ES": "21", "IT": "22", "BE": "21",
		"NL": "21", "GB": "20", "US": "0", "CA": "5", "JP": "0",
	}
	for country, want := range cases {
		assert.True(t, VATRate(country).Equal(dec(want)), country)
	}
	res := Calculate(dec("333.33"), "ca", "CA", tariff.ModeRail)
	assert.True(t, res.TotalAmount.Equal(dec("16.67")))
}
