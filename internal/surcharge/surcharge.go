// Package surcharge computes the stack of surcharges layered on a base
// transport cost.
package surcharge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"freightcontrol/internal/tariff"
)

// Type classifies a surcharge.
type Type string

const (
	TypeFuel       Type = "fuel"
	TypeCustoms    Type = "customs"
	TypeToll       Type = "toll"
	TypeSecurity   Type = "security"
	TypePeakSeason Type = "peak_season"
	TypeWeekend    Type = "weekend"
	TypeNight      Type = "night"
	TypeRemoteArea Type = "remote_area"
	TypeHazardous  Type = "hazardous"
	TypeOther      Type = "other"
)

// Method is how a surcharge amount is derived from the base cost.
type Method string

const (
	MethodPercentage Method = "percentage"
	MethodFixed      Method = "fixed"
	MethodFuelIndex  Method = "fuel_index"
)

// Surcharge is a read-only tariff surcharge definition.
type Surcharge struct {
	ID          int64                `json:"id"`
	Code        string               `json:"code"`
	Name        string               `json:"name"`
	Type        Type                 `json:"type"`
	Method      Method               `json:"calculation_method"`
	Value       decimal.Decimal      `json:"value"`
	Mode        tariff.TransportMode `json:"transport_mode,omitempty"`
	Origin      tariff.GeoScope      `json:"origin"`
	Destination tariff.GeoScope      `json:"destination"`
	Weight      tariff.Range         `json:"weight"`
	Volume      tariff.Range         `json:"volume"`
	Weekdays    []time.Weekday       `json:"weekdays,omitempty"`
	Hours       *tariff.ClockWindow  `json:"hours,omitempty"`
	Mandatory   bool                 `json:"is_mandatory"`
	Active      bool                 `json:"is_active"`
	Validity    tariff.Window        `json:"validity"`
	RateID      int64                `json:"rate_id,omitempty"`
	ContractID  string               `json:"contract_id,omitempty"`
	PartnerID   string               `json:"partner_id,omitempty"`

	// Fuel index parameters, used only by MethodFuelIndex.
	FuelBasePrice decimal.Decimal `json:"fuel_base_price"`
	FuelThreshold decimal.Decimal `json:"fuel_threshold"`
}

// Source supplies candidate surcharges.
type Source interface {
	ActiveSurcharges(ctx context.Context) ([]Surcharge, error)
}

// FuelIndex reports the fuel price in force at a date.
type FuelIndex interface {
	FuelPrice(ctx context.Context, at time.Time) (decimal.Decimal, error)
}

// Scope narrows surcharges owned by a rate, contract or partner and lists
// the optional surcharges the caller asked for.
type Scope struct {
	RateID          int64
	ContractID      string
	PartnerID       string
	IncludeOptional bool
	Requested       []string
}

func (s Scope) requested(code string) bool {
	if s.IncludeOptional {
		return true
	}
	for _, c := range s.Requested {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

// Item is one applied surcharge.
type Item struct {
	SurchargeID int64           `json:"id"`
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Type        Type            `json:"type"`
	Method      Method          `json:"calculation_method"`
	Amount      decimal.Decimal `json:"amount"`
}

// Result is the surcharge stack for one base cost.
type Result struct {
	Items       []Item          `json:"surcharges"`
	Total       decimal.Decimal `json:"total_surcharges"`
	FinalAmount decimal.Decimal `json:"final_amount"`
}

// Applies reports whether s is applicable to p within scope.
func Applies(s Surcharge, p tariff.ShipmentParams, scope Scope) bool {
	switch {
	case !s.Active:
		return false
	case !s.Validity.Contains(p.ShipDate):
		return false
	case !tariff.ModeMatches(s.Mode, p.Mode):
		return false
	case !s.Origin.Matches(p.Origin), !s.Destination.Matches(p.Destination):
		return false
	case !s.Weight.Contains(p.Weight), !s.Volume.Contains(p.Volume):
		return false
	case !weekdayMatches(s.Weekdays, p.ShipDate):
		return false
	case s.Hours != nil && !s.Hours.Contains(p.ShipDate):
		return false
	case s.RateID != 0 && s.RateID != scope.RateID:
		return false
	case !tariff.ScopeMatches(s.ContractID, scope.ContractID):
		return false
	case !tariff.ScopeMatches(s.PartnerID, scope.PartnerID):
		return false
	case !s.Mandatory && !scope.requested(s.Code):
		return false
	}
	return true
}

func weekdayMatches(days []time.Weekday, t time.Time) bool {
	if len(days) == 0 {
		return true
	}
	wd := t.UTC().Weekday()
	for _, d := range days {
		if d == wd {
			return true
		}
	}
	return false
}

// Amount computes a surcharge on base. fuelPrice is only read for
// fuel-index surcharges.
func Amount(s Surcharge, base, fuelPrice decimal.Decimal) (decimal.Decimal, error) {
	switch s.Method {
	case MethodPercentage:
		return tariff.Money(tariff.Percent(base, s.Value)), nil
	case MethodFixed:
		return tariff.Money(s.Value), nil
	case MethodFuelIndex:
		return fuelAmount(s, base, fuelPrice), nil
	default:
		return decimal.Zero, fmt.Errorf("surcharge %d: unsupported calculation method %q", s.ID, s.Method)
	}
}

// fuelAmount applies the fuel clause: no charge while the price moved by no
// more than the threshold percentage, or moved down. Beyond it the charge
// is base × variation% × fuel share%.
func fuelAmount(s Surcharge, base, current decimal.Decimal) decimal.Decimal {
	if !s.FuelBasePrice.IsPositive() {
		return decimal.Zero
	}
	variation, _ := tariff.VariancePercent(current, s.FuelBasePrice)
	if !variation.GreaterThan(s.FuelThreshold) {
		return decimal.Zero
	}
	return tariff.Money(tariff.Percent(tariff.Percent(base, variation), s.Value))
}

// ErrNoFuelPrice is returned by a FuelIndex that has no price for the
// requested date. Fuel-index surcharges are then skipped.
var ErrNoFuelPrice = errors.New("no fuel price recorded")

// Calculator builds surcharge stacks.
type Calculator struct {
	source Source
	fuel   FuelIndex
	logger *zap.Logger
}

// NewCalculator builds a calculator. fuel may be nil, in which case
// fuel-index surcharges never apply.
func NewCalculator(source Source, fuel FuelIndex, logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{source: source, fuel: fuel, logger: logger}
}

// Calculate applies every applicable surcharge to base. Zero amounts are
// dropped; items are ordered by surcharge id.
func (c *Calculator) Calculate(ctx context.Context, base decimal.Decimal, p tariff.ShipmentParams, scope Scope) (Result, error) {
	all, err := c.source.ActiveSurcharges(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load surcharges: %w", err)
	}
	applicable := make([]Surcharge, 0, len(all))
	for _, s := range all {
		if Applies(s, p, scope) {
			applicable = append(applicable, s)
		}
	}
	sort.SliceStable(applicable, func(i, j int) bool { return applicable[i].ID < applicable[j].ID })

	var fuelPrice decimal.Decimal
	fuelLoaded, fuelKnown := false, false
	res := Result{Items: []Item{}, Total: decimal.Zero}
	for _, s := range applicable {
		if s.Method == MethodFuelIndex {
			if !fuelLoaded {
				fuelLoaded = true
				fuelPrice, fuelKnown, err = c.fuelPrice(ctx, p.ShipDate)
				if err != nil {
					return Result{}, err
				}
			}
			if !fuelKnown {
				continue
			}
		}
		amount, err := Amount(s, base, fuelPrice)
		if err != nil {
			return Result{}, err
		}
		if amount.IsZero() {
			c.logger.Debug("surcharge dropped at zero", zap.Int64("surcharge_id", s.ID), zap.String("code", s.Code))
			continue
		}
		res.Items = append(res.Items, Item{
			SurchargeID: s.ID,
			Code:        s.Code,
			Name:        s.Name,
			Type:        s.Type,
			Method:      s.Method,
			Amount:      amount,
		})
		res.Total = res.Total.Add(amount)
	}
	res.FinalAmount = base.Add(res.Total)
	return res, nil
}

func (c *Calculator) fuelPrice(ctx context.Context, at time.Time) (decimal.Decimal, bool, error) {
	if c.fuel == nil {
		c.logger.Debug("fuel index unavailable, skipping fuel surcharges")
		return decimal.Zero, false, nil
	}
	price, err := c.fuel.FuelPrice(ctx, at)
	if errors.Is(err, ErrNoFuelPrice) {
		c.logger.Debug("no fuel price in force, skipping fuel surcharges", zap.Time("at", at))
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("fuel price: %w", err)
	}
	return price, true, nil
}
