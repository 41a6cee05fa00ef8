// Package tariff holds the value types shared by the rating pipeline:
// shipment parameters and the constraint primitives (ranges, validity
// windows, time-of-day windows, geographic scopes) that rates, surcharges,
// contract lines and pricing rules are filtered by.
package tariff

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransportMode is the mode a shipment or segment travels by.
type TransportMode string

const (
	ModeRoad       TransportMode = "road"
	ModeRail       TransportMode = "rail"
	ModeSea        TransportMode = "sea"
	ModeAir        TransportMode = "air"
	ModeMultimodal TransportMode = "multimodal"
)

// Location is a concrete point of a shipment: ISO country code plus an
// optional tariff zone.
type Location struct {
	Country string `json:"country"`
	Zone    string `json:"zone,omitempty"`
}

// ShipmentParams is the immutable input of a single rating call.
type ShipmentParams struct {
	Mode          TransportMode   `json:"transport_mode"`
	Origin        Location        `json:"origin"`
	Destination   Location        `json:"destination"`
	Weight        decimal.Decimal `json:"weight"`
	Volume        decimal.Decimal `json:"volume"`
	Distance      decimal.Decimal `json:"distance"`
	Hours         decimal.Decimal `json:"hours"`
	Pallets       int             `json:"pallet_count"`
	Containers    int             `json:"container_count"`
	DeclaredValue decimal.Decimal `json:"declared_value"`
	ShipDate      time.Time       `json:"ship_date"`
	PartnerID     string          `json:"partner_id,omitempty"`
	ContractID    string          `json:"contract_id,omitempty"`
}

// IsDomestic reports whether origin and destination share a country.
func (p ShipmentParams) IsDomestic() bool {
	return strings.EqualFold(p.Origin.Country, p.Destination.Country)
}

// Range is an optional [Min, Max] bound. An unset side does not constrain.
type Range struct {
	Min decimal.NullDecimal `json:"min"`
	Max decimal.NullDecimal `json:"max"`
}

// NewRange builds a range with both sides set.
func NewRange(min, max decimal.Decimal) Range {
	return Range{
		Min: decimal.NullDecimal{Decimal: min, Valid: true},
		Max: decimal.NullDecimal{Decimal: max, Valid: true},
	}
}

// AtLeast builds a range bounded only from below.
func AtLeast(min decimal.Decimal) Range {
	return Range{Min: decimal.NullDecimal{Decimal: min, Valid: true}}
}

// AtMost builds a range bounded only from above.
func AtMost(max decimal.Decimal) Range {
	return Range{Max: decimal.NullDecimal{Decimal: max, Valid: true}}
}

// IsZero reports whether neither bound is set.
func (r Range) IsZero() bool {
	return !r.Min.Valid && !r.Max.Valid
}

// Contains checks v against every set bound, inclusively.
func (r Range) Contains(v decimal.Decimal) bool {
	if r.Min.Valid && v.LessThan(r.Min.Decimal) {
		return false
	}
	if r.Max.Valid && v.GreaterThan(r.Max.Decimal) {
		return false
	}
	return true
}

// Window is a validity period. Nil ends are unbounded; both ends are
// inclusive and compared at calendar-day granularity in UTC.
type Window struct {
	Effective *time.Time `json:"effective_date,omitempty"`
	Expiry    *time.Time `json:"expiry_date,omitempty"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	day := DateOnly(t)
	if w.Effective != nil && day.Before(DateOnly(*w.Effective)) {
		return false
	}
	if w.Expiry != nil && day.After(DateOnly(*w.Expiry)) {
		return false
	}
	return true
}

// DateOnly truncates t to midnight UTC.
func DateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return Clock{}, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Clock) minutes() int { return c.Hour*60 + c.Minute }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c Clock) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ClockWindow is a time-of-day interval [From, To). When To is not after
// From the window wraps past midnight (22:00-06:00 covers the night).
type ClockWindow struct {
	From Clock `json:"from"`
	To   Clock `json:"to"`
}

// Contains reports whether the time of day of t (UTC) is inside the window.
func (w ClockWindow) Contains(t time.Time) bool {
	u := t.UTC()
	m := u.Hour()*60 + u.Minute()
	from, to := w.From.minutes(), w.To.minutes()
	if from == to {
		return true
	}
	if from < to {
		return m >= from && m < to
	}
	return m >= from || m < to
}

// GeoScope restricts an entity to a country and/or zone. Empty fields are
// wildcards and always match.
type GeoScope struct {
	Country string `json:"country,omitempty"`
	Zone    string `json:"zone,omitempty"`
}

// Matches applies the wildcard rule to a concrete location.
func (g GeoScope) Matches(l Location) bool {
	if g.Country != "" && !strings.EqualFold(g.Country, l.Country) {
		return false
	}
	if g.Zone != "" && !strings.EqualFold(g.Zone, l.Zone) {
		return false
	}
	return true
}

// ModeMatches implements the mode filter shared by rates and surcharges:
// an empty or multimodal constraint accepts any mode.
func ModeMatches(constraint, actual TransportMode) bool {
	return constraint == "" || constraint == ModeMultimodal || constraint == actual
}

// ScopeMatches implements the ownership filter: an empty owner is generally
// applicable, otherwise it must equal the caller's id.
func ScopeMatches(owner, actual string) bool {
	return owner == "" || owner == actual
}

// Money rounds a monetary amount to cents, half away from zero.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

var hundred = decimal.NewFromInt(100)

// Percent returns amount × pct / 100.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

// VariancePercent returns (actual − expected) / expected × 100 rounded to
// two places. The boolean is false when expected is zero.
func VariancePercent(actual, expected decimal.Decimal) (decimal.Decimal, bool) {
	if expected.IsZero() {
		return decimal.Zero, false
	}
	return actual.Sub(expected).Div(expected).Mul(hundred).Round(2), true
}
