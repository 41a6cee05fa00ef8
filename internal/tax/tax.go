// Package tax appends VAT and export tax to a transport cost.
package tax

import (
	"strings"

	"github.com/shopspring/decimal"

	"freightcontrol/internal/tariff"
)

const (
	TypeVAT       = "VAT"
	TypeExportTax = "EXPORT_TAX"
)

// vatRates are domestic VAT rates in percent. Unknown countries are 0%.
var vatRates = map[string]decimal.Decimal{
	"FR": decimal.NewFromInt(20),
	"DE": decimal.NewFromInt(19),
	"ES": decimal.NewFromInt(21),
	"IT": decimal.NewFromInt(22),
	"BE": decimal.NewFromInt(21),
	"NL": decimal.NewFromInt(21),
	"GB": decimal.NewFromInt(20),
	"US": decimal.Zero,
	"CA": decimal.NewFromInt(5),
}

var exportTaxRate = decimal.RequireFromString("0.5")

// Item is one tax line.
type Item struct {
	Type    string          `json:"type"`
	Country string          `json:"country,omitempty"`
	Rate    decimal.Decimal `json:"rate"`
	Amount  decimal.Decimal `json:"amount"`
}

// Result lists the taxes due on an amount.
type Result struct {
	Items       []Item          `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// VATRate returns the domestic VAT rate for country.
func VATRate(country string) decimal.Decimal {
	if r, ok := vatRates[strings.ToUpper(strings.TrimSpace(country))]; ok {
		return r
	}
	return decimal.Zero
}

// Calculate returns the taxes on base. Domestic moves carry the origin
// country's VAT; international sea and air moves carry export tax. Items
// that round to zero are left out.
func Calculate(base decimal.Decimal, origin, destination string, mode tariff.TransportMode) Result {
	res := Result{Items: []Item{}, TotalAmount: decimal.Zero}
	add := func(typ string, rate decimal.Decimal) {
		amount := tariff.Money(tariff.Percent(base, rate))
		if amount.IsZero() {
			return
		}
		res.Items = append(res.Items, Item{Type: typ, Country: strings.ToUpper(strings.TrimSpace(origin)), Rate: rate, Amount: amount})
		res.TotalAmount = res.TotalAmount.Add(amount)
	}

	domestic := strings.EqualFold(strings.TrimSpace(origin), strings.TrimSpace(destination))
	if domestic {
		add(TypeVAT, VATRate(origin))
	}
	if !domestic && (mode == tariff.ModeSea || mode == tariff.ModeAir) {
		add(TypeExportTax, exportTaxRate)
	}
	return res
}
