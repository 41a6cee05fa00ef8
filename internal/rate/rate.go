package rate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"freightcontrol/internal/tariff"
)

// Type is the unit a rate is priced in.
type Type string

const (
	PerKm        Type = "per_km"
	PerKg        Type = "per_kg"
	PerM3        Type = "per_m3"
	PerPallet    Type = "per_pallet"
	PerContainer Type = "per_container"
	PerHour      Type = "per_hour"
	FlatRate     Type = "flat_rate"
)

// ErrUnknownRateType is returned under the Reject policy for rate types
// outside the known set.
var ErrUnknownRateType = errors.New("unknown rate type")

// UnknownTypePolicy decides how an unrecognised rate type is priced.
type UnknownTypePolicy int

const (
	// TreatAsFlat prices unknown types with quantity 1.
	TreatAsFlat UnknownTypePolicy = iota
	// Reject fails the calculation with ErrUnknownRateType.
	Reject
)

// PolicyByName maps a config value to a policy. Unknown names fall back
// to TreatAsFlat.
func PolicyByName(name string) UnknownTypePolicy {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "reject", "error", "strict":
		return Reject
	default:
		return TreatAsFlat
	}
}

func (p UnknownTypePolicy) String() string {
	if p == Reject {
		return "reject"
	}
	return "flat"
}

// Rate is a contractual tariff line. Read-only to the engine.
type Rate struct {
	ID          int64                `json:"id"`
	Code        string               `json:"code"`
	Type        Type                 `json:"rate_type"`
	BaseRate    decimal.Decimal      `json:"base_rate"`
	MinCharge   decimal.NullDecimal  `json:"min_charge"`
	Currency    string               `json:"currency"`
	Mode        tariff.TransportMode `json:"transport_mode"`
	Origin      tariff.GeoScope      `json:"origin"`
	Destination tariff.GeoScope      `json:"destination"`
	Weight      tariff.Range         `json:"weight"`
	Volume      tariff.Range         `json:"volume"`
	Distance    tariff.Range         `json:"distance"`
	Priority    int                  `json:"priority"`
	Validity    tariff.Window        `json:"validity"`
	Active      bool                 `json:"is_active"`
	ContractID  string               `json:"contract_id,omitempty"`
	PartnerID   string               `json:"partner_id,omitempty"`
}

// Known reports whether t is one of the defined rate types.
func (t Type) Known() bool {
	switch t {
	case PerKm, PerKg, PerM3, PerPallet, PerContainer, PerHour, FlatRate:
		return true
	}
	return false
}

// QuantityFor maps a rate type to the shipment quantity it is priced on.
// The boolean is false for unknown types, whose quantity is 1.
func QuantityFor(t Type, p tariff.ShipmentParams) (decimal.Decimal, bool) {
	switch t {
	case PerKm:
		return p.Distance, true
	case PerKg:
		return p.Weight, true
	case PerM3:
		return p.Volume, true
	case PerPallet:
		return decimal.NewFromInt(int64(p.Pallets)), true
	case PerContainer:
		return decimal.NewFromInt(int64(p.Containers)), true
	case PerHour:
		return p.Hours, true
	case FlatRate:
		return decimal.NewFromInt(1), true
	default:
		return decimal.NewFromInt(1), false
	}
}

// Charge is the result of pricing one rate against a shipment.
type Charge struct {
	Quantity   decimal.Decimal `json:"quantity"`
	UnitRate   decimal.Decimal `json:"unit_rate"`
	Amount     decimal.Decimal `json:"amount"`
	MinApplied bool            `json:"min_charge_applied,omitempty"`
}

// Calculate prices the rate: base_rate × quantity, lifted to the minimum
// charge when one is set, rounded to cents.
func (r Rate) Calculate(p tariff.ShipmentParams, policy UnknownTypePolicy) (Charge, error) {
	return Price(r.Type, r.BaseRate, r.MinCharge, p, policy)
}

// Price is the calculation shared by rates and contract lines.
func Price(t Type, unit decimal.Decimal, min decimal.NullDecimal, p tariff.ShipmentParams, policy UnknownTypePolicy) (Charge, error) {
	qty, known := QuantityFor(t, p)
	if !known && policy == Reject {
		return Charge{}, fmt.Errorf("%w: %q", ErrUnknownRateType, t)
	}
	c := Charge{Quantity: qty, UnitRate: unit, Amount: tariff.Money(unit.Mul(qty))}
	if min.Valid && c.Amount.LessThan(min.Decimal) {
		c.Amount = tariff.Money(min.Decimal)
		c.MinApplied = true
	}
	return c, nil
}
