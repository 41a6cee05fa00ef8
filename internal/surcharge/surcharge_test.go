package surcharge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freightcontrol/internal/tariff"
)

type staticSource []Surcharge

func (s staticSource) ActiveSurcharges(context.Context) ([]Surcharge, error) { return s, nil }

type fixedFuel decimal.Decimal

func (f fixedFuel) FuelPrice(context.Context, time.Time) (decimal.Decimal, error) {
	return decimal.Decimal(f), nil
}

type brokenFuel struct{}

func (brokenFuel) FuelPrice(context.Context, time.Time) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("index offline")
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Tuesday 14 May 2024, 09:30 UTC.
func params() tariff.ShipmentParams {
	return tariff.ShipmentParams{
		Mode:        tariff.ModeRoad,
		Origin:      tariff.Location{Country: "FR"},
		Destination: tariff.Location{Country: "DE"},
		Weight:      dec("800"),
		Volume:      dec("3"),
		ShipDate:    time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestAmountByMethod(t *testing.T) {
	base := dec("1000")
	pct, err := Amount(Surcharge{Method: MethodPercentage, Value: dec("12.5")}, base, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, pct.Equal(dec("125")))

	fixed, err := Amount(Surcharge{Method: MethodFixed, Value: dec("45")}, base, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, fixed.Equal(dec("45")))

	_, err = Amount(Surcharge{ID: 9, Method: Method("lunar")}, base, decimal.Zero)
	assert.Error(t, err)
}

func TestFuelIndex(t *testing.T) {
	s := Surcharge{Method: MethodFuelIndex, Value: dec("30"), FuelBasePrice: dec("1.50"), FuelThreshold: dec("5")}
	base := dec("1000")

	// +4% is inside the threshold.
	a, _ := Amount(s, base, dec("1.56"))
	assert.True(t, a.IsZero())

	// +20%: 1000 × 20% × 30% = 60
	a, _ = Amount(s, base, dec("1.80"))
	assert.True(t, a.Equal(dec("60")), "got %s", a)

	// falling prices never produce a credit
	a, _ = Amount(s, base, dec("1.00"))
	assert.True(t, a.IsZero())
}

func TestApplies(t *testing.T) {
	p := params()
	night := tariff.ClockWindow{From: tariff.Clock{Hour: 22}, To: tariff.Clock{Hour: 6}}
	cases := []struct {
		name  string
		s     Surcharge
		scope Scope
		want  bool
	}{
		{"plain mandatory", Surcharge{Active: true, Mandatory: true}, Scope{}, true},
		{"inactive", Surcharge{Mandatory: true}, Scope{}, false},
		{"wrong mode", Surcharge{Active: true, Mandatory: true, Mode: tariff.ModeAir}, Scope{}, false},
		{"destination wildcard zone", Surcharge{Active: true, Mandatory: true, Destination: tariff.GeoScope{Country: "DE"}}, Scope{}, true},
		{"weight too low", Surcharge{Active: true, Mandatory: true, Weight: tariff.AtLeast(dec("1000"))}, Scope{}, false},
		{"weekend only", Surcharge{Active: true, Mandatory: true, Weekdays: []time.Weekday{time.Saturday, time.Sunday}}, Scope{}, false},
		{"tuesday", Surcharge{Active: true, Mandatory: true, Weekdays: []time.Weekday{time.Tuesday}}, Scope{}, true},
		{"night only", Surcharge{Active: true, Mandatory: true, Hours: &night}, Scope{}, false},
		{"other rate", Surcharge{Active: true, Mandatory: true, RateID: 4}, Scope{RateID: 3}, false},
		{"own rate", Surcharge{Active: true, Mandatory: true, RateID: 3}, Scope{RateID: 3}, true},
		{"other partner", Surcharge{Active: true, Mandatory: true, PartnerID: "p1"}, Scope{PartnerID: "p2"}, false},
		{"optional not requested", Surcharge{Active: true, Code: "TAILLIFT"}, Scope{}, false},
		{"optional requested", Surcharge{Active: true, Code: "TAILLIFT"}, Scope{Requested: []string{"taillift"}}, true},
		{"optional included", Surcharge{Active: true, Code: "TAILLIFT"}, Scope{IncludeOptional: true}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Applies(tc.s, p, tc.scope))
		})
	}
}

func TestCalculate_StackAndDropsZero(t *testing.T) {
	calc := NewCalculator(staticSource{
		{ID: 3, Code: "CUST", Name: "Customs", Type: TypeCustoms, Method: MethodFixed, Value: dec("35"), Active: true, Mandatory: true},
		{ID: 1, Code: "FUEL", Name: "Fuel", Type: TypeFuel, Method: MethodFuelIndex, Value: dec("25"), FuelBasePrice: dec("1.60"), FuelThreshold: dec("2"), Active: true, Mandatory: true},
		{ID: 2, Code: "SEC", Name: "Security", Type: TypeSecurity, Method: MethodPercentage, Value: dec("0"), Active: true, Mandatory: true},
	}, fixedFuel(dec("2.00")), nil)

	res, err := calc.Calculate(context.Background(), dec("800"), params(), Scope{})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, int64(1), res.Items[0].SurchargeID)
	// 800 × 25% variation × 25% share = 50
	assert.True(t, res.Items[0].Amount.Equal(dec("50")), "got %s", res.Items[0].Amount)
	assert.Equal(t, int64(3), res.Items[1].SurchargeID)
	assert.True(t, res.Total.Equal(dec("85")))
	assert.True(t, res.FinalAmount.Equal(dec("885")))
}

func TestCalculate_Monotonic(t *testing.T) {
	calc := NewCalculator(staticSource{
		{ID: 1, Method: MethodPercentage, Value: dec("7"), Active: true, Mandatory: true},
		{ID: 2, Method: MethodFixed, Value: dec("12.40"), Active: true, Mandatory: true},
	}, nil, nil)
	for _, base := range []string{"0", "0.01", "99.99", "15000"} {
		res, err := calc.Calculate(context.Background(), dec(base), params(), Scope{})
		require.NoError(t, err)
		assert.True(t, res.FinalAmount.GreaterThanOrEqual(dec(base)))
	}
}

func TestCalculate_FuelErrors(t *testing.T) {
	fuel := Surcharge{ID: 1, Method: MethodFuelIndex, Value: dec("25"), FuelBasePrice: dec("1.60"), Active: true, Mandatory: true}

	res, err := NewCalculator(staticSource{fuel}, nil, nil).Calculate(context.Background(), dec("100"), params(), Scope{})
	require.NoError(t, err)
	assert.Empty(t, res.Items)

	res, err = NewCalculator(staticSource{fuel}, missingFuel{}, nil).Calculate(context.Background(), dec("100"), params(), Scope{})
	require.NoError(t, err)
	assert.Empty(t, res.Items)

	_, err = NewCalculator(staticSource{fuel}, brokenFuel{}, nil).Calculate(context.Background(), dec("100"), params(), Scope{})
	assert.Error(t, err)
}

type missingFuel struct{}

func (missingFuel) FuelPrice(context.Context, time.Time) (decimal.Decimal, error) {
	return decimal.Zero, ErrNoFuelPrice
}
