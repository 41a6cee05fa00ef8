package invoicecontrol

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"freightcontrol/internal/costing"
	"freightcontrol/internal/surcharge"
	"freightcontrol/internal/tariff"
)

var (
	lineVarianceHigh     = decimal.NewFromInt(15)
	lineVarianceCritical = decimal.NewFromInt(30)
	invoiceVarianceHigh  = decimal.NewFromInt(10)
	invoiceVarianceFail  = decimal.NewFromInt(20)
	minUnitPrice         = decimal.RequireFromString("0.01")
	two                  = decimal.NewFromInt(2)
)

// expectedFor derives what a line should cost from the shipment estimate.
// A line naming a known segment is compared against that segment only.
func expectedFor(l Line, b costing.Breakdown) (decimal.Decimal, MatchConfidence) {
	if l.SegmentID != "" {
		if part, ok := b.Part(l.SegmentID); ok {
			b = part
		}
	}
	switch l.Type {
	case LineTransport:
		return b.TransportCost, ""
	case LineSurcharge:
		return matchSurcharge(l, b.Surcharges)
	case LineTax:
		return b.TaxesTotal, ""
	default:
		return b.Total, ""
	}
}

// matchSurcharge joins a surcharge line to the estimated stack, by id when
// the carrier supplied one, otherwise by a case-insensitive substring match
// between the line description and the surcharge name or code.
func matchSurcharge(l Line, items []surcharge.Item) (decimal.Decimal, MatchConfidence) {
	total := decimal.Zero
	if l.SurchargeID != 0 {
		found := false
		for _, it := range items {
			if it.SurchargeID == l.SurchargeID {
				total = total.Add(it.Amount)
				found = true
			}
		}
		if found {
			return total, MatchExact
		}
	}

	desc := strings.ToLower(strings.TrimSpace(l.Description))
	if desc == "" {
		return decimal.Zero, MatchNone
	}
	found := false
	for _, it := range items {
		name := strings.ToLower(it.Name)
		code := strings.ToLower(it.Code)
		if (name != "" && (strings.Contains(desc, name) || strings.Contains(name, desc))) ||
			(code != "" && strings.Contains(desc, code)) {
			total = total.Add(it.Amount)
			found = true
		}
	}
	if found {
		return total, MatchHeuristic
	}
	return decimal.Zero, MatchNone
}

func newAnomaly(l Line, t AnomalyType, sev Severity, desc string) Anomaly {
	return Anomaly{
		ID:          uuid.NewString(),
		LineID:      l.ID,
		LineNumber:  l.Number,
		Type:        t,
		Severity:    sev,
		Description: desc,
		Actual:      l.Amount,
	}
}

// checkLine runs every anomaly rule against a line. Rules are independent,
// so one line may carry several anomalies.
func checkLine(l Line, expected decimal.NullDecimal) []Anomaly {
	out := []Anomaly{}

	if expected.Valid {
		variance := l.Amount.Sub(expected.Decimal)
		pct, ok := tariff.VariancePercent(l.Amount, expected.Decimal)
		switch {
		case !ok && l.Amount.IsPositive():
			a := newAnomaly(l, AnomalyUnexpectedCharge, SeverityHigh, "charge billed where no cost was expected")
			a.Expected, a.Variance = expected, decimal.NewNullDecimal(variance)
			out = append(out, a)
		case ok && pct.Abs().GreaterThan(lineVarianceHigh):
			sev := SeverityHigh
			if pct.Abs().GreaterThan(lineVarianceCritical) {
				sev = SeverityCritical
			}
			a := newAnomaly(l, AnomalyPriceVariance, sev, fmt.Sprintf("billed amount deviates %s%% from expected", pct.StringFixed(2)))
			a.Expected, a.Variance, a.VariancePercentage = expected, decimal.NewNullDecimal(variance), decimal.NewNullDecimal(pct)
			out = append(out, a)
		}
		if ok && l.Amount.GreaterThan(expected.Decimal.Mul(two)) {
			a := newAnomaly(l, AnomalyExcessiveAmount, SeverityCritical, "billed amount exceeds twice the expected cost")
			a.Expected, a.Variance, a.VariancePercentage = expected, decimal.NewNullDecimal(variance), decimal.NewNullDecimal(pct)
			out = append(out, a)
		}
	}

	if l.Type == LineTransport && !l.Referenced() {
		out = append(out, newAnomaly(l, AnomalyUnreferencedService, SeverityMedium, "transport line references no shipment, rate or contract line"))
	}
	if !l.Quantity.IsPositive() {
		out = append(out, newAnomaly(l, AnomalyInvalidQuantity, SeverityHigh, "quantity must be positive"))
	}
	if price, ok := l.EffectiveUnitPrice(); ok && l.Type == LineTransport && price.LessThan(minUnitPrice) {
		out = append(out, newAnomaly(l, AnomalySuspiciousUnitPrice, SeverityMedium, "unit price below 0.01"))
	}
	return out
}

// classify turns the collected anomalies and the invoice-level variance
// into a verdict.
func classify(anomalies []Anomaly, variancePct decimal.NullDecimal) (ValidationStatus, RiskLevel, bool) {
	var critical, high bool
	for _, a := range anomalies {
		switch a.Severity {
		case SeverityCritical:
			critical = true
		case SeverityHigh:
			high = true
		}
	}
	abs := decimal.Zero
	if variancePct.Valid {
		abs = variancePct.Decimal.Abs()
	}
	switch {
	case critical || abs.GreaterThan(invoiceVarianceFail):
		return ValidationFailed, RiskCritical, true
	case high || abs.GreaterThan(invoiceVarianceHigh):
		return ValidationManualReview, RiskHigh, true
	case len(anomalies) > 0:
		return ValidationPassed, RiskMedium, false
	default:
		return ValidationPassed, RiskLow, false
	}
}
