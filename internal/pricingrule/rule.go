// Package pricingrule evaluates conditional business rules and applies
// their monetary adjustments.
//
// Conditions and actions are closed variants: every kind is handled by a
// switch, and an unrecognised kind never matches or never adjusts.
package pricingrule

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"freightcontrol/internal/tariff"
)

// Scope says where in the costing pipeline a rule runs.
type Scope string

const (
	// ScopeSegment rules run per transport segment, before taxes.
	ScopeSegment Scope = "segment"
	// ScopeShipment rules run once on the taxed shipment total.
	ScopeShipment Scope = "shipment"
)

// ConditionKind enumerates the supported condition variants.
type ConditionKind string

const (
	WeightRange       ConditionKind = "weight_range"
	VolumeRange       ConditionKind = "volume_range"
	ValueRange        ConditionKind = "value_range"
	DistanceRange     ConditionKind = "distance_range"
	TimeRange         ConditionKind = "time_range"
	ModeEquals        ConditionKind = "mode_equals"
	OriginEquals      ConditionKind = "origin_equals"
	DestinationEquals ConditionKind = "destination_equals"
	PartnerEquals     ConditionKind = "partner_equals"
)

// Condition is one conjunct of a rule. Only the fields relevant to Kind
// are read.
type Condition struct {
	Kind      ConditionKind        `json:"kind"`
	Range     tariff.Range         `json:"range,omitempty"`
	Clock     tariff.ClockWindow   `json:"clock,omitempty"`
	Mode      tariff.TransportMode `json:"mode,omitempty"`
	Geo       tariff.GeoScope      `json:"geo,omitempty"`
	PartnerID string               `json:"partner_id,omitempty"`
}

// Matches evaluates the condition against c.
func (cond Condition) Matches(c Context) bool {
	switch cond.Kind {
	case WeightRange:
		return cond.Range.Contains(c.Weight)
	case VolumeRange:
		return cond.Range.Contains(c.Volume)
	case ValueRange:
		return cond.Range.Contains(c.Value)
	case DistanceRange:
		return cond.Range.Contains(c.Distance)
	case TimeRange:
		return cond.Clock.Contains(c.At)
	case ModeEquals:
		return cond.Mode == c.Mode
	case OriginEquals:
		return cond.Geo.Matches(c.Origin)
	case DestinationEquals:
		return cond.Geo.Matches(c.Destination)
	case PartnerEquals:
		return strings.EqualFold(cond.PartnerID, c.PartnerID)
	default:
		return false
	}
}

// AdjustmentType enumerates the supported actions.
type AdjustmentType string

const (
	PercentageDiscount AdjustmentType = "percentage_discount"
	PercentageMarkup   AdjustmentType = "percentage_markup"
	FixedDiscount      AdjustmentType = "fixed_discount"
	FixedMarkup        AdjustmentType = "fixed_markup"
	SetRate            AdjustmentType = "set_rate"
)

// Action is one ordered adjustment of a rule.
type Action struct {
	Type  AdjustmentType  `json:"adjustment_type"`
	Value decimal.Decimal `json:"value"`
}

// Rule is a pricing rule. UsageCount and LastUsedAt are owned by the
// store and only change through a UsageRecorder.
type Rule struct {
	ID         int64         `json:"id"`
	Name       string        `json:"name"`
	Scope      Scope         `json:"scope"`
	Priority   int           `json:"priority"`
	Active     bool          `json:"is_active"`
	Validity   tariff.Window `json:"validity"`
	Conditions []Condition   `json:"conditions"`
	Actions    []Action      `json:"actions"`
	UsageCount int64         `json:"usage_count"`
	LastUsedAt *time.Time    `json:"last_used_at,omitempty"`
}

// ConditionsMet is the conjunction of all conditions. A rule without
// conditions is a catch-all and always matches.
func (r Rule) ConditionsMet(c Context) bool {
	for _, cond := range r.Conditions {
		if !cond.Matches(c) {
			return false
		}
	}
	return true
}

// Context describes the shipment or shipment cost a rule is evaluated
// against. Amount is the value being adjusted.
type Context struct {
	Amount      decimal.Decimal      `json:"amount"`
	Weight      decimal.Decimal      `json:"weight"`
	Volume      decimal.Decimal      `json:"volume"`
	Value       decimal.Decimal      `json:"value"`
	Distance    decimal.Decimal      `json:"distance"`
	Mode        tariff.TransportMode `json:"transport_mode"`
	Origin      tariff.Location      `json:"origin"`
	Destination tariff.Location      `json:"destination"`
	At          time.Time            `json:"at"`
	PartnerID   string               `json:"partner_id,omitempty"`
	ContractID  string               `json:"contract_id,omitempty"`
	ShipmentID  string               `json:"shipment_id,omitempty"`
	Scope       Scope                `json:"scope,omitempty"`
}

// ContextFor derives a rule context from shipment parameters.
func ContextFor(p tariff.ShipmentParams, amount decimal.Decimal, scope Scope) Context {
	return Context{
		Amount:      amount,
		Weight:      p.Weight,
		Volume:      p.Volume,
		Value:       p.DeclaredValue,
		Distance:    p.Distance,
		Mode:        p.Mode,
		Origin:      p.Origin,
		Destination: p.Destination,
		At:          p.ShipDate,
		PartnerID:   p.PartnerID,
		ContractID:  p.ContractID,
		Scope:       scope,
	}
}

// ApplyAdjustment returns the signed delta action a produces on amount.
func ApplyAdjustment(amount decimal.Decimal, a Action) decimal.Decimal {
	switch a.Type {
	case PercentageDiscount:
		return tariff.Money(tariff.Percent(amount, a.Value)).Neg()
	case PercentageMarkup:
		return tariff.Money(tariff.Percent(amount, a.Value))
	case FixedDiscount:
		return decimal.Min(a.Value, decimal.Max(amount, decimal.Zero)).Neg()
	case FixedMarkup:
		return a.Value
	case SetRate:
		return a.Value.Sub(amount)
	default:
		return decimal.Zero
	}
}
