// Package memory is an in-process store backing the rating pipeline and
// invoice control. It serves the CLI, tests and deployments without a
// database. All methods are safe for concurrent use.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"freightcontrol/internal/costing"
	"freightcontrol/internal/invoicecontrol"
	"freightcontrol/internal/pricingrule"
	"freightcontrol/internal/rate"
	"freightcontrol/internal/store"
	"freightcontrol/internal/surcharge"
	"freightcontrol/internal/tariff"
)

type fuelPrice struct {
	at    time.Time
	price decimal.Decimal
}

type Store struct {
	mu         sync.RWMutex
	rates      map[int64]rate.Rate
	surcharges map[int64]surcharge.Surcharge
	rules      map[int64]pricingrule.Rule
	contracts  map[string]costing.Contract
	shipments  map[string]costing.Shipment
	orders     map[string]costing.Order
	invoices   map[string]invoicecontrol.Invoice
	fuel       []fuelPrice
}

func New() *Store {
	return &Store{
		rates:      map[int64]rate.Rate{},
		surcharges: map[int64]surcharge.Surcharge{},
		rules:      map[int64]pricingrule.Rule{},
		contracts:  map[string]costing.Contract{},
		shipments:  map[string]costing.Shipment{},
		orders:     map[string]costing.Order{},
		invoices:   map[string]invoicecontrol.Invoice{},
	}
}

func (s *Store) PutRate(r rate.Rate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[r.ID] = r
}

func (s *Store) PutSurcharge(sc surcharge.Surcharge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surcharges[sc.ID] = sc
}

func (s *Store) PutRule(r pricingrule.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = r
}

func (s *Store) PutContract(c costing.Contract) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[c.ID] = c
}

func (s *Store) PutShipment(sh costing.Shipment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shipments[sh.ID] = sh
}

func (s *Store) PutOrder(o costing.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

// PutFuelPrice records the fuel price in force from the given day on.
func (s *Store) PutFuelPrice(at time.Time, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fuel = append(s.fuel, fuelPrice{at: tariff.DateOnly(at), price: price})
	sort.SliceStable(s.fuel, func(i, j int) bool { return s.fuel[i].at.Before(s.fuel[j].at) })
}

// ActiveRates returns active rates usable for mode, ordered by id.
func (s *Store) ActiveRates(_ context.Context, mode tariff.TransportMode) ([]rate.Rate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rate.Rate, 0, len(s.rates))
	for _, r := range s.rates {
		if r.Active && tariff.ModeMatches(r.Mode, mode) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ActiveSurcharges(context.Context) ([]surcharge.Surcharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]surcharge.Surcharge, 0, len(s.surcharges))
	for _, sc := range s.surcharges {
		if sc.Active {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FuelPrice returns the latest price recorded on or before at.
func (s *Store) FuelPrice(_ context.Context, at time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day := tariff.DateOnly(at)
	for i := len(s.fuel) - 1; i >= 0; i-- {
		if !s.fuel[i].at.After(day) {
			return s.fuel[i].price, nil
		}
	}
	return decimal.Zero, surcharge.ErrNoFuelPrice
}

func (s *Store) ActiveRules(_ context.Context, scope pricingrule.Scope) ([]pricingrule.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pricingrule.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.Active && (scope == "" || r.Scope == "" || r.Scope == scope) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Rule(_ context.Context, id int64) (pricingrule.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return pricingrule.Rule{}, store.ErrNotFound
	}
	return r, nil
}

// RecordUsage increments the rule's usage counter under the store lock.
func (s *Store) RecordUsage(_ context.Context, ruleID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return store.ErrNotFound
	}
	r.UsageCount++
	used := at
	r.LastUsedAt = &used
	s.rules[ruleID] = r
	return nil
}

func (s *Store) Contract(_ context.Context, id string) (costing.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[id]
	if !ok {
		return costing.Contract{}, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) Shipment(_ context.Context, id string) (costing.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.shipments[id]
	if !ok {
		return costing.Shipment{}, store.ErrNotFound
	}
	return sh, nil
}

func (s *Store) Order(_ context.Context, id string) (costing.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return costing.Order{}, store.ErrNotFound
	}
	return o, nil
}

func copyInvoice(inv invoicecontrol.Invoice) invoicecontrol.Invoice {
	inv.Lines = append([]invoicecontrol.Line(nil), inv.Lines...)
	inv.Anomalies = append([]invoicecontrol.Anomaly{}, inv.Anomalies...)
	if inv.ControlledAt != nil {
		at := *inv.ControlledAt
		inv.ControlledAt = &at
	}
	return inv
}

func (s *Store) Invoice(_ context.Context, id string) (invoicecontrol.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return invoicecontrol.Invoice{}, store.ErrNotFound
	}
	return copyInvoice(inv), nil
}

// CreateInvoice rejects a second invoice with the same id, or with the
// same number from the same carrier.
func (s *Store) CreateInvoice(_ context.Context, inv invoicecontrol.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invoices[inv.ID]; ok {
		return store.ErrConflict
	}
	for _, other := range s.invoices {
		if other.CarrierID == inv.CarrierID && other.Number == inv.Number {
			return store.ErrConflict
		}
	}
	s.invoices[inv.ID] = copyInvoice(inv)
	return nil
}

// TransitionStatus moves an invoice from one status to another, failing
// with store.ErrConflict if it is no longer in from.
func (s *Store) TransitionStatus(_ context.Context, id string, from, to invoicecontrol.Status, note string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return store.ErrNotFound
	}
	if inv.Status != from {
		return store.ErrConflict
	}
	inv.Status = to
	if note != "" {
		inv.StatusNote = note
	}
	inv.UpdatedAt = at
	s.invoices[id] = inv
	return nil
}

// SaveControl records a control outcome, failing with store.ErrConflict if
// the invoice is no longer in from.
func (s *Store) SaveControl(_ context.Context, out invoicecontrol.Outcome, from invoicecontrol.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[out.InvoiceID]
	if !ok {
		return store.ErrNotFound
	}
	if inv.Status != from {
		return store.ErrConflict
	}
	at := out.ControlledAt
	inv.Status = out.Status
	inv.ValidationStatus = out.ValidationStatus
	inv.RiskLevel = out.RiskLevel
	inv.ExpectedTotal = decimal.NewNullDecimal(out.ExpectedTotal)
	inv.VariancePercentage = out.VariancePercentage
	inv.Anomalies = append([]invoicecontrol.Anomaly{}, out.Anomalies...)
	inv.ControlledAt = &at
	inv.UpdatedAt = at
	s.invoices[out.InvoiceID] = inv
	return nil
}
