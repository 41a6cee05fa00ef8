package costing

import (
	"context"

	"github.com/shopspring/decimal"

	"freightcontrol/internal/rate"
	"freightcontrol/internal/tariff"
)

// Contract is a partner agreement whose lines replace the general rate
// table when a caller costs under it explicitly.
type Contract struct {
	ID        string         `json:"id"`
	PartnerID string         `json:"partner_id,omitempty"`
	Name      string         `json:"name"`
	Currency  string         `json:"currency"`
	Active    bool           `json:"is_active"`
	Validity  tariff.Window  `json:"validity"`
	Lines     []ContractLine `json:"lines"`
}

// ContractLine is one priced line of a contract.
type ContractLine struct {
	ID          int64                `json:"id"`
	Description string               `json:"description"`
	RateType    rate.Type            `json:"rate_type"`
	Rate        decimal.Decimal      `json:"rate"`
	MinCharge   decimal.NullDecimal  `json:"min_charge"`
	Mode        tariff.TransportMode `json:"transport_mode,omitempty"`
	Origin      tariff.GeoScope      `json:"origin"`
	Destination tariff.GeoScope      `json:"destination"`
	Weight      tariff.Range         `json:"weight"`
	Volume      tariff.Range         `json:"volume"`
	Distance    tariff.Range         `json:"distance"`
	Validity    tariff.Window        `json:"validity"`
	Active      bool                 `json:"is_active"`
}

// Matches reports whether the line prices p.
func (l ContractLine) Matches(p tariff.ShipmentParams) bool {
	return l.Active &&
		l.Validity.Contains(p.ShipDate) &&
		tariff.ModeMatches(l.Mode, p.Mode) &&
		l.Origin.Matches(p.Origin) &&
		l.Destination.Matches(p.Destination) &&
		l.Weight.Contains(p.Weight) &&
		l.Volume.Contains(p.Volume) &&
		l.Distance.Contains(p.Distance)
}

// Segment is one leg of a shipment.
type Segment struct {
	ID       string                `json:"id"`
	Sequence int                   `json:"sequence"`
	Params   tariff.ShipmentParams `json:"params"`
}

// Shipment carries the aggregate parameters used by shipment-scope rules
// and the legs priced individually. A shipment without segments is priced
// as a single leg from Params.
type Shipment struct {
	ID       string                `json:"id"`
	OrderID  string                `json:"order_id,omitempty"`
	Params   tariff.ShipmentParams `json:"params"`
	Segments []Segment             `json:"segments,omitempty"`
}

// Legs returns the segments to price, in sequence order.
func (s Shipment) Legs() []Segment {
	if len(s.Segments) == 0 {
		return []Segment{{ID: s.ID, Sequence: 1, Params: s.Params}}
	}
	return s.Segments
}

// Order groups shipments.
type Order struct {
	ID          string   `json:"id"`
	ShipmentIDs []string `json:"shipment_ids"`
}

// ContractSource loads contracts with their lines.
type ContractSource interface {
	Contract(ctx context.Context, id string) (Contract, error)
}

// ShipmentSource loads shipments and orders.
type ShipmentSource interface {
	Shipment(ctx context.Context, id string) (Shipment, error)
	Order(ctx context.Context, id string) (Order, error)
}
