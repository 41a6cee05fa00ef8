package costing

import (
	"github.com/shopspring/decimal"

	"freightcontrol/internal/pricingrule"
	"freightcontrol/internal/rate"
	"freightcontrol/internal/surcharge"
	"freightcontrol/internal/tax"
)

// LineCost records which rate or contract line priced a segment.
type LineCost struct {
	SegmentID      string          `json:"segment_id,omitempty"`
	RateID         int64           `json:"rate_id,omitempty"`
	RateCode       string          `json:"rate_code,omitempty"`
	ContractID     string          `json:"contract_id,omitempty"`
	ContractLineID int64           `json:"contract_line_id,omitempty"`
	RateType       rate.Type       `json:"rate_type"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitRate       decimal.Decimal `json:"unit_rate"`
	Amount         decimal.Decimal `json:"amount"`
	MinApplied     bool            `json:"min_charge_applied,omitempty"`
}

// AppliedRule is the audit record of a pricing rule that changed a cost.
type AppliedRule struct {
	RuleID     int64             `json:"rule_id"`
	Name       string            `json:"name"`
	Scope      pricingrule.Scope `json:"scope"`
	SegmentID  string            `json:"segment_id,omitempty"`
	Before     decimal.Decimal   `json:"before"`
	Adjustment decimal.Decimal   `json:"adjustment"`
	After      decimal.Decimal   `json:"after"`
}

// PartKind says what a breakdown part stands for.
type PartKind string

const (
	PartSegment  PartKind = "segment"
	PartShipment PartKind = "shipment"
)

// Part is the breakdown of one segment of a shipment, or one shipment of
// an order.
type Part struct {
	Kind      PartKind  `json:"kind"`
	ID        string    `json:"id"`
	Breakdown Breakdown `json:"breakdown"`
}

// Breakdown is the priced result of the rating pipeline.
// Total = TransportCost + SurchargesTotal + AdjustmentsTotal + TaxesTotal.
type Breakdown struct {
	Currency         string           `json:"currency"`
	TransportCost    decimal.Decimal  `json:"transport_cost"`
	SurchargesTotal  decimal.Decimal  `json:"surcharges_total"`
	AdjustmentsTotal decimal.Decimal  `json:"adjustments_total"`
	TaxesTotal       decimal.Decimal  `json:"taxes_total"`
	Total            decimal.Decimal  `json:"total"`
	Surcharges       []surcharge.Item `json:"surcharges"`
	Taxes            []tax.Item       `json:"taxes"`
	Lines            []LineCost       `json:"lines"`
	AppliedRules     []AppliedRule    `json:"applied_rules"`
	Parts            []Part           `json:"parts,omitempty"`
}

func emptyBreakdown(currency string) Breakdown {
	return Breakdown{
		Currency:         currency,
		TransportCost:    decimal.Zero,
		SurchargesTotal:  decimal.Zero,
		AdjustmentsTotal: decimal.Zero,
		TaxesTotal:       decimal.Zero,
		Total:            decimal.Zero,
		Surcharges:       []surcharge.Item{},
		Taxes:            []tax.Item{},
		Lines:            []LineCost{},
		AppliedRules:     []AppliedRule{},
	}
}

// Add sums b and o field-wise and concatenates their itemised lists.
// Parts are not merged; callers attach them explicitly.
func (b Breakdown) Add(o Breakdown) Breakdown {
	out := emptyBreakdown(b.Currency)
	if out.Currency == "" {
		out.Currency = o.Currency
	}
	out.TransportCost = b.TransportCost.Add(o.TransportCost)
	out.SurchargesTotal = b.SurchargesTotal.Add(o.SurchargesTotal)
	out.AdjustmentsTotal = b.AdjustmentsTotal.Add(o.AdjustmentsTotal)
	out.TaxesTotal = b.TaxesTotal.Add(o.TaxesTotal)
	out.Total = b.Total.Add(o.Total)
	out.Surcharges = append(append(out.Surcharges, b.Surcharges...), o.Surcharges...)
	out.Taxes = append(append(out.Taxes, b.Taxes...), o.Taxes...)
	out.Lines = append(append(out.Lines, b.Lines...), o.Lines...)
	out.AppliedRules = append(append(out.AppliedRules, b.AppliedRules...), o.AppliedRules...)
	return out
}

// Part returns the breakdown of the part with the given id.
func (b Breakdown) Part(id string) (Breakdown, bool) {
	for _, p := range b.Parts {
		if p.ID == id {
			return p.Breakdown, true
		}
	}
	return Breakdown{}, false
}

func (b *Breakdown) recomputeTotal() {
	b.Total = b.TransportCost.Add(b.SurchargesTotal).Add(b.AdjustmentsTotal).Add(b.TaxesTotal)
}
