// Package fixtures loads a tariff book (rates, surcharges, pricing rules,
// contracts, shipments, invoices and fuel prices) from YAML into a store.
package fixtures

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"freightcontrol/internal/costing"
	"freightcontrol/internal/invoicecontrol"
	"freightcontrol/internal/pricingrule"
	"freightcontrol/internal/rate"
	"freightcontrol/internal/store"
	"freightcontrol/internal/store/memory"
	"freightcontrol/internal/surcharge"
	"freightcontrol/internal/tariff"
)

// Document is the YAML layout of a tariff book.
type Document struct {
	Currency   string      `yaml:"currency"`
	FuelPrices []FuelPrice `yaml:"fuel_prices"`
	Rates      []Rate      `yaml:"rates"`
	Surcharges []Surcharge `yaml:"surcharges"`
	Rules      []Rule      `yaml:"pricing_rules"`
	Contracts  []Contract  `yaml:"contracts"`
	Shipments  []Shipment  `yaml:"shipments"`
	Orders     []Order     `yaml:"orders"`
	Invoices   []Invoice   `yaml:"invoices"`
}

type FuelPrice struct {
	Date  string          `yaml:"date"`
	Price decimal.Decimal `yaml:"price"`
}

type Geo struct {
	Country string `yaml:"country"`
	Zone    string `yaml:"zone"`
}

type Bounds struct {
	Min *decimal.Decimal `yaml:"min"`
	Max *decimal.Decimal `yaml:"max"`
}

type Validity struct {
	Effective string `yaml:"effective"`
	Expiry    string `yaml:"expiry"`
}

type Rate struct {
	ID          int64            `yaml:"id"`
	Code        string           `yaml:"code"`
	Type        string           `yaml:"type"`
	BaseRate    decimal.Decimal  `yaml:"base_rate"`
	MinCharge   *decimal.Decimal `yaml:"min_charge"`
	Currency    string           `yaml:"currency"`
	Mode        string           `yaml:"mode"`
	Origin      Geo              `yaml:"origin"`
	Destination Geo              `yaml:"destination"`
	Weight      Bounds           `yaml:"weight"`
	Volume      Bounds           `yaml:"volume"`
	Distance    Bounds           `yaml:"distance"`
	Priority    int              `yaml:"priority"`
	Validity    Validity         `yaml:",inline"`
	Inactive    bool             `yaml:"inactive"`
	ContractID  string           `yaml:"contract_id"`
	PartnerID   string           `yaml:"partner_id"`
}

type Surcharge struct {
	ID            int64           `yaml:"id"`
	Code          string          `yaml:"code"`
	Name          string          `yaml:"name"`
	Type          string          `yaml:"type"`
	Method        string          `yaml:"method"`
	Value         decimal.Decimal `yaml:"value"`
	Mode          string          `yaml:"mode"`
	Origin        Geo             `yaml:"origin"`
	Destination   Geo             `yaml:"destination"`
	Weight        Bounds          `yaml:"weight"`
	Volume        Bounds          `yaml:"volume"`
	Weekdays      []string        `yaml:"weekdays"`
	From          *tariff.Clock   `yaml:"from"`
	To            *tariff.Clock   `yaml:"to"`
	Optional      bool            `yaml:"optional"`
	Inactive      bool            `yaml:"inactive"`
	Validity      Validity        `yaml:",inline"`
	RateID        int64           `yaml:"rate_id"`
	ContractID    string          `yaml:"contract_id"`
	PartnerID     string          `yaml:"partner_id"`
	FuelBasePrice decimal.Decimal `yaml:"fuel_base_price"`
	FuelThreshold decimal.Decimal `yaml:"fuel_threshold"`
}

type Condition struct {
	Kind      string           `yaml:"kind"`
	Min       *decimal.Decimal `yaml:"min"`
	Max       *decimal.Decimal `yaml:"max"`
	From      tariff.Clock     `yaml:"from"`
	To        tariff.Clock     `yaml:"to"`
	Mode      string           `yaml:"mode"`
	Country   string           `yaml:"country"`
	Zone      string           `yaml:"zone"`
	PartnerID string           `yaml:"partner_id"`
}

type Action struct {
	Type  string          `yaml:"type"`
	Value decimal.Decimal `yaml:"value"`
}

type Rule struct {
	ID         int64       `yaml:"id"`
	Name       string      `yaml:"name"`
	Scope      string      `yaml:"scope"`
	Priority   int         `yaml:"priority"`
	Inactive   bool        `yaml:"inactive"`
	Validity   Validity    `yaml:",inline"`
	Conditions []Condition `yaml:"conditions"`
	Actions    []Action    `yaml:"actions"`
}

type ContractLine struct {
	ID          int64            `yaml:"id"`
	Description string           `yaml:"description"`
	Type        string           `yaml:"type"`
	Rate        decimal.Decimal  `yaml:"rate"`
	MinCharge   *decimal.Decimal `yaml:"min_charge"`
	Mode        string           `yaml:"mode"`
	Origin      Geo              `yaml:"origin"`
	Destination Geo              `yaml:"destination"`
	Weight      Bounds           `yaml:"weight"`
	Volume      Bounds           `yaml:"volume"`
	Distance    Bounds           `yaml:"distance"`
	Validity    Validity         `yaml:",inline"`
	Inactive    bool             `yaml:"inactive"`
}

type Contract struct {
	ID        string         `yaml:"id"`
	PartnerID string         `yaml:"partner_id"`
	Name      string         `yaml:"name"`
	Currency  string         `yaml:"currency"`
	Inactive  bool           `yaml:"inactive"`
	Validity  Validity       `yaml:",inline"`
	Lines     []ContractLine `yaml:"lines"`
}

// Params is the YAML form of tariff.ShipmentParams.
type Params struct {
	Mode          string          `yaml:"mode"`
	Origin        Geo             `yaml:"origin"`
	Destination   Geo             `yaml:"destination"`
	Weight        decimal.Decimal `yaml:"weight"`
	Volume        decimal.Decimal `yaml:"volume"`
	Distance      decimal.Decimal `yaml:"distance"`
	Hours         decimal.Decimal `yaml:"hours"`
	Pallets       int             `yaml:"pallets"`
	Containers    int             `yaml:"containers"`
	DeclaredValue decimal.Decimal `yaml:"declared_value"`
	ShipDate      string          `yaml:"ship_date"`
	PartnerID     string          `yaml:"partner_id"`
	ContractID    string          `yaml:"contract_id"`
}

type Segment struct {
	ID     string `yaml:"id"`
	Params `yaml:",inline"`
}

type Shipment struct {
	ID       string    `yaml:"id"`
	OrderID  string    `yaml:"order_id"`
	Params   `yaml:",inline"`
	Segments []Segment `yaml:"segments"`
}

type Order struct {
	ID        string   `yaml:"id"`
	Shipments []string `yaml:"shipments"`
}

type InvoiceLine struct {
	Type           string          `yaml:"type"`
	Description    string          `yaml:"description"`
	ShipmentID     string          `yaml:"shipment_id"`
	SegmentID      string          `yaml:"segment_id"`
	RateID         int64           `yaml:"rate_id"`
	ContractLineID int64           `yaml:"contract_line_id"`
	SurchargeID    int64           `yaml:"surcharge_id"`
	Quantity       decimal.Decimal  `yaml:"quantity"`
	UnitPrice      *decimal.Decimal `yaml:"unit_price"`
	Amount         decimal.Decimal  `yaml:"amount"`
}

type Invoice struct {
	ID          string        `yaml:"id"`
	Number      string        `yaml:"number"`
	CarrierID   string        `yaml:"carrier_id"`
	ContractID  string        `yaml:"contract_id"`
	Currency    string        `yaml:"currency"`
	InvoiceDate string        `yaml:"invoice_date"`
	Lines       []InvoiceLine `yaml:"lines"`
}

// Load decodes a tariff book. Unknown keys are rejected so typos surface
// instead of silently widening a rate.
func Load(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return &doc, nil
		}
		return nil, fmt.Errorf("decode tariff book: %w", err)
	}
	return &doc, nil
}

// Sink receives converted tariff book entities. Both the memory and the
// postgres store satisfy it, the former through MemorySink.
type Sink interface {
	PutFuelPrice(ctx context.Context, at time.Time, price decimal.Decimal) error
	PutRate(ctx context.Context, r rate.Rate) error
	PutSurcharge(ctx context.Context, sc surcharge.Surcharge) error
	PutRule(ctx context.Context, r pricingrule.Rule) error
	PutContract(ctx context.Context, c costing.Contract) error
	PutShipment(ctx context.Context, sh costing.Shipment) error
	PutOrder(ctx context.Context, o costing.Order) error
	CreateInvoice(ctx context.Context, inv invoicecontrol.Invoice) error
}

// MemorySink adapts a memory store to Sink.
type MemorySink struct{ *memory.Store }

func (m MemorySink) PutFuelPrice(_ context.Context, at time.Time, price decimal.Decimal) error {
	m.Store.PutFuelPrice(at, price)
	return nil
}

func (m MemorySink) PutRate(_ context.Context, r rate.Rate) error {
	m.Store.PutRate(r)
	return nil
}

func (m MemorySink) PutSurcharge(_ context.Context, sc surcharge.Surcharge) error {
	m.Store.PutSurcharge(sc)
	return nil
}

func (m MemorySink) PutRule(_ context.Context, r pricingrule.Rule) error {
	m.Store.PutRule(r)
	return nil
}

func (m MemorySink) PutContract(_ context.Context, c costing.Contract) error {
	m.Store.PutContract(c)
	return nil
}

func (m MemorySink) PutShipment(_ context.Context, sh costing.Shipment) error {
	m.Store.PutShipment(sh)
	return nil
}

func (m MemorySink) PutOrder(_ context.Context, o costing.Order) error {
	m.Store.PutOrder(o)
	return nil
}

// ReadFile decodes the tariff book at path.
func ReadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	doc, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// LoadFile reads path and returns a memory store seeded from it.
func LoadFile(ctx context.Context, path string) (*memory.Store, *Document, error) {
	doc, err := ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	ms := memory.New()
	if err := doc.Seed(ctx, MemorySink{ms}); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return ms, doc, nil
}

// Seed converts the document and writes every entity into sink. Invoices
// are created in the received status; one that already exists is left
// untouched so reseeding never resets its lifecycle.
func (d *Document) Seed(ctx context.Context, sink Sink) error {
	for _, fp := range d.FuelPrices {
		at, err := parseDate(fp.Date)
		if err != nil || at == nil {
			return fmt.Errorf("fuel price: invalid date %q", fp.Date)
		}
		if err := sink.PutFuelPrice(ctx, *at, fp.Price); err != nil {
			return fmt.Errorf("fuel price %s: %w", fp.Date, err)
		}
	}
	for _, r := range d.Rates {
		v, err := r.Rate()
		if err != nil {
			return err
		}
		if err := sink.PutRate(ctx, v); err != nil {
			return fmt.Errorf("rate %d: %w", v.ID, err)
		}
	}
	for _, s := range d.Surcharges {
		v, err := s.Surcharge()
		if err != nil {
			return err
		}
		if err := sink.PutSurcharge(ctx, v); err != nil {
			return fmt.Errorf("surcharge %d: %w", v.ID, err)
		}
	}
	for _, r := range d.Rules {
		v, err := r.Rule()
		if err != nil {
			return err
		}
		if err := sink.PutRule(ctx, v); err != nil {
			return fmt.Errorf("pricing rule %d: %w", v.ID, err)
		}
	}
	for _, c := range d.Contracts {
		v, err := c.Contract()
		if err != nil {
			return err
		}
		if err := sink.PutContract(ctx, v); err != nil {
			return fmt.Errorf("contract %s: %w", v.ID, err)
		}
	}
	// Orders first: shipments reference them.
	for _, o := range d.Orders {
		if err := sink.PutOrder(ctx, costing.Order{ID: o.ID, ShipmentIDs: o.Shipments}); err != nil {
			return fmt.Errorf("order %s: %w", o.ID, err)
		}
	}
	orderOf := map[string]string{}
	for _, o := range d.Orders {
		for _, id := range o.Shipments {
			orderOf[id] = o.ID
		}
	}
	for _, s := range d.Shipments {
		v, err := s.Shipment()
		if err != nil {
			return err
		}
		if v.OrderID == "" {
			v.OrderID = orderOf[v.ID]
		}
		if err := sink.PutShipment(ctx, v); err != nil {
			return fmt.Errorf("shipment %s: %w", v.ID, err)
		}
	}
	for _, inv := range d.Invoices {
		v, err := inv.Invoice()
		if err != nil {
			return err
		}
		if err := sink.CreateInvoice(ctx, v); err != nil && !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("invoice %s: %w", v.ID, err)
		}
	}
	return nil
}

func (g Geo) scope() tariff.GeoScope { return tariff.GeoScope{Country: g.Country, Zone: g.Zone} }

func (g Geo) location() tariff.Location { return tariff.Location{Country: g.Country, Zone: g.Zone} }

func (b Bounds) rng() tariff.Range {
	return tariff.Range{Min: nullable(b.Min), Max: nullable(b.Max)}
}

func nullable(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

func (v Validity) window() (tariff.Window, error) {
	eff, err := parseDate(v.Effective)
	if err != nil {
		return tariff.Window{}, err
	}
	exp, err := parseDate(v.Expiry)
	if err != nil {
		return tariff.Window{}, err
	}
	return tariff.Window{Effective: eff, Expiry: exp}, nil
}

// parseDate accepts a calendar date or an RFC 3339 timestamp. An empty
// string is an open bound.
func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid date %q", s)
}

func (r Rate) Rate() (rate.Rate, error) {
	w, err := r.Validity.window()
	if err != nil {
		return rate.Rate{}, fmt.Errorf("rate %d: %w", r.ID, err)
	}
	return rate.Rate{
		ID:          r.ID,
		Code:        r.Code,
		Type:        rate.Type(r.Type),
		BaseRate:    r.BaseRate,
		MinCharge:   nullable(r.MinCharge),
		Currency:    r.Currency,
		Mode:        tariff.TransportMode(r.Mode),
		Origin:      r.Origin.scope(),
		Destination: r.Destination.scope(),
		Weight:      r.Weight.rng(),
		Volume:      r.Volume.rng(),
		Distance:    r.Distance.rng(),
		Priority:    r.Priority,
		Validity:    w,
		Active:      !r.Inactive,
		ContractID:  r.ContractID,
		PartnerID:   r.PartnerID,
	}, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func (s Surcharge) Surcharge() (surcharge.Surcharge, error) {
	w, err := s.Validity.window()
	if err != nil {
		return surcharge.Surcharge{}, fmt.Errorf("surcharge %d: %w", s.ID, err)
	}
	out := surcharge.Surcharge{
		ID:            s.ID,
		Code:          s.Code,
		Name:          s.Name,
		Type:          surcharge.Type(s.Type),
		Method:        surcharge.Method(s.Method),
		Value:         s.Value,
		Mode:          tariff.TransportMode(s.Mode),
		Origin:        s.Origin.scope(),
		Destination:   s.Destination.scope(),
		Weight:        s.Weight.rng(),
		Volume:        s.Volume.rng(),
		Mandatory:     !s.Optional,
		Active:        !s.Inactive,
		Validity:      w,
		RateID:        s.RateID,
		ContractID:    s.ContractID,
		PartnerID:     s.PartnerID,
		FuelBasePrice: s.FuelBasePrice,
		FuelThreshold: s.FuelThreshold,
	}
	for _, d := range s.Weekdays {
		key := strings.ToLower(strings.TrimSpace(d))
		if len(key) > 3 {
			key = key[:3]
		}
		wd, ok := weekdays[key]
		if !ok {
			return surcharge.Surcharge{}, fmt.Errorf("surcharge %d: unknown weekday %q", s.ID, d)
		}
		out.Weekdays = append(out.Weekdays, wd)
	}
	if (s.From == nil) != (s.To == nil) {
		return surcharge.Surcharge{}, fmt.Errorf("surcharge %d: from and to must be set together", s.ID)
	}
	if s.From != nil {
		out.Hours = &tariff.ClockWindow{From: *s.From, To: *s.To}
	}
	return out, nil
}

func (c Condition) Condition() (pricingrule.Condition, error) {
	out := pricingrule.Condition{Kind: pricingrule.ConditionKind(c.Kind)}
	switch out.Kind {
	case pricingrule.WeightRange, pricingrule.VolumeRange, pricingrule.ValueRange, pricingrule.DistanceRange:
		out.Range = tariff.Range{Min: nullable(c.Min), Max: nullable(c.Max)}
	case pricingrule.TimeRange:
		out.Clock = tariff.ClockWindow{From: c.From, To: c.To}
	case pricingrule.ModeEquals:
		out.Mode = tariff.TransportMode(c.Mode)
	case pricingrule.OriginEquals, pricingrule.DestinationEquals:
		out.Geo = tariff.GeoScope{Country: c.Country, Zone: c.Zone}
	case pricingrule.PartnerEquals:
		out.PartnerID = c.PartnerID
	default:
		return pricingrule.Condition{}, fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return out, nil
}

func (r Rule) Rule() (pricingrule.Rule, error) {
	w, err := r.Validity.window()
	if err != nil {
		return pricingrule.Rule{}, fmt.Errorf("pricing rule %d: %w", r.ID, err)
	}
	out := pricingrule.Rule{
		ID:       r.ID,
		Name:     r.Name,
		Scope:    pricingrule.Scope(r.Scope),
		Priority: r.Priority,
		Active:   !r.Inactive,
		Validity: w,
	}
	for _, c := range r.Conditions {
		cond, err := c.Condition()
		if err != nil {
			return pricingrule.Rule{}, fmt.Errorf("pricing rule %d: %w", r.ID, err)
		}
		out.Conditions = append(out.Conditions, cond)
	}
	for _, a := range r.Actions {
		out.Actions = append(out.Actions, pricingrule.Action{Type: pricingrule.AdjustmentType(a.Type), Value: a.Value})
	}
	return out, nil
}

func (c Contract) Contract() (costing.Contract, error) {
	w, err := c.Validity.window()
	if err != nil {
		return costing.Contract{}, fmt.Errorf("contract %s: %w", c.ID, err)
	}
	out := costing.Contract{
		ID:        c.ID,
		PartnerID: c.PartnerID,
		Name:      c.Name,
		Currency:  c.Currency,
		Active:    !c.Inactive,
		Validity:  w,
	}
	for _, l := range c.Lines {
		lw, err := l.Validity.window()
		if err != nil {
			return costing.Contract{}, fmt.Errorf("contract %s line %d: %w", c.ID, l.ID, err)
		}
		out.Lines = append(out.Lines, costing.ContractLine{
			ID:          l.ID,
			Description: l.Description,
			RateType:    rate.Type(l.Type),
			Rate:        l.Rate,
			MinCharge:   nullable(l.MinCharge),
			Mode:        tariff.TransportMode(l.Mode),
			Origin:      l.Origin.scope(),
			Destination: l.Destination.scope(),
			Weight:      l.Weight.rng(),
			Volume:      l.Volume.rng(),
			Distance:    l.Distance.rng(),
			Validity:    lw,
			Active:      !l.Inactive,
		})
	}
	return out, nil
}

// ShipmentParams converts the YAML parameters.
func (p Params) ShipmentParams() (tariff.ShipmentParams, error) {
	at, err := parseDate(p.ShipDate)
	if err != nil {
		return tariff.ShipmentParams{}, err
	}
	if at == nil {
		return tariff.ShipmentParams{}, fmt.Errorf("ship_date is required")
	}
	return tariff.ShipmentParams{
		Mode:          tariff.TransportMode(p.Mode),
		Origin:        p.Origin.location(),
		Destination:   p.Destination.location(),
		Weight:        p.Weight,
		Volume:        p.Volume,
		Distance:      p.Distance,
		Hours:         p.Hours,
		Pallets:       p.Pallets,
		Containers:    p.Containers,
		DeclaredValue: p.DeclaredValue,
		ShipDate:      *at,
		PartnerID:     p.PartnerID,
		ContractID:    p.ContractID,
	}, nil
}

func (s Shipment) Shipment() (costing.Shipment, error) {
	params, err := s.Params.ShipmentParams()
	if err != nil {
		return costing.Shipment{}, fmt.Errorf("shipment %s: %w", s.ID, err)
	}
	out := costing.Shipment{ID: s.ID, OrderID: s.OrderID, Params: params}
	for i, seg := range s.Segments {
		sp, err := seg.Params.ShipmentParams()
		if err != nil {
			return costing.Shipment{}, fmt.Errorf("shipment %s segment %s: %w", s.ID, seg.ID, err)
		}
		if sp.PartnerID == "" {
			sp.PartnerID = params.PartnerID
		}
		if sp.ContractID == "" {
			sp.ContractID = params.ContractID
		}
		out.Segments = append(out.Segments, costing.Segment{ID: seg.ID, Sequence: i + 1, Params: sp})
	}
	return out, nil
}

func (inv Invoice) Invoice() (invoicecontrol.Invoice, error) {
	at, err := parseDate(inv.InvoiceDate)
	if err != nil {
		return invoicecontrol.Invoice{}, fmt.Errorf("invoice %s: %w", inv.ID, err)
	}
	out := invoicecontrol.Invoice{
		ID:         inv.ID,
		Number:     inv.Number,
		CarrierID:  inv.CarrierID,
		ContractID: inv.ContractID,
		Currency:   inv.Currency,
		Status:     invoicecontrol.StatusReceived,
		Anomalies:  []invoicecontrol.Anomaly{},
	}
	if at != nil {
		out.InvoiceDate = *at
		out.ReceivedAt = *at
		out.UpdatedAt = *at
	}
	for i, l := range inv.Lines {
		out.Lines = append(out.Lines, invoicecontrol.Line{
			ID:             fmt.Sprintf("%s-%d", inv.ID, i+1),
			Number:         i + 1,
			Type:           invoicecontrol.LineType(l.Type),
			Description:    l.Description,
			ShipmentID:     l.ShipmentID,
			SegmentID:      l.SegmentID,
			RateID:         l.RateID,
			ContractLineID: l.ContractLineID,
			SurchargeID:    l.SurchargeID,
			Quantity:       l.Quantity,
			UnitPrice:      nullable(l.UnitPrice),
			Amount:         l.Amount,
		})
	}
	out.TotalAmount = out.LinesTotal()
	if err := out.Validate(); err != nil {
		return invoicecontrol.Invoice{}, fmt.Errorf("invoice %s: %w", inv.ID, err)
	}
	return out, nil
}
