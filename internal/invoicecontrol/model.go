package invoicecontrol

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LineType classifies an invoice line.
type LineType string

const (
	LineTransport LineType = "transport"
	LineSurcharge LineType = "surcharge"
	LineTax       LineType = "tax"
	LineOther     LineType = "other"
)

// Line is one billed line of a carrier invoice. The references are
// optional and link the line to what the carrier claims to have run.
type Line struct {
	ID             string          `json:"id"`
	Number         int             `json:"line_number"`
	Type           LineType        `json:"line_type"`
	Description    string          `json:"description"`
	ShipmentID     string          `json:"shipment_id,omitempty"`
	SegmentID      string          `json:"segment_id,omitempty"`
	RateID         int64           `json:"rate_id,omitempty"`
	ContractLineID int64           `json:"contract_line_id,omitempty"`
	SurchargeID    int64           `json:"surcharge_id,omitempty"`
	Quantity       decimal.Decimal     `json:"quantity"`
	UnitPrice      decimal.NullDecimal `json:"unit_price"`
	Amount         decimal.Decimal     `json:"amount"`
}

// Referenced reports whether the line points at a shipment, rate or
// contract line.
func (l Line) Referenced() bool {
	return l.ShipmentID != "" || l.RateID != 0 || l.ContractLineID != 0
}

// EffectiveUnitPrice returns the unit price as billed. A price the carrier
// left out is derived from amount and quantity; ok is false when neither
// is usable.
func (l Line) EffectiveUnitPrice() (price decimal.Decimal, ok bool) {
	if l.UnitPrice.Valid {
		return l.UnitPrice.Decimal, true
	}
	if !l.Quantity.IsPositive() {
		return decimal.Zero, false
	}
	return l.Amount.Div(l.Quantity).Round(4), true
}

// Invoice is a carrier invoice with its control results.
type Invoice struct {
	ID                 string              `json:"id"`
	Number             string              `json:"invoice_number"`
	CarrierID          string              `json:"carrier_id"`
	ContractID         string              `json:"contract_id,omitempty"`
	Currency           string              `json:"currency"`
	InvoiceDate        time.Time           `json:"invoice_date"`
	Status             Status              `json:"status"`
	StatusNote         string              `json:"status_note,omitempty"`
	TotalAmount        decimal.Decimal     `json:"total_amount"`
	ExpectedTotal      decimal.NullDecimal `json:"expected_total"`
	VariancePercentage decimal.NullDecimal `json:"variance_percentage"`
	ValidationStatus   ValidationStatus    `json:"validation_status,omitempty"`
	RiskLevel          RiskLevel           `json:"risk_level,omitempty"`
	Anomalies          []Anomaly           `json:"anomalies"`
	Lines              []Line              `json:"lines"`
	ReceivedAt         time.Time           `json:"received_at"`
	ControlledAt       *time.Time          `json:"controlled_at,omitempty"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// LinesTotal sums the billed line amounts.
func (inv Invoice) LinesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range inv.Lines {
		total = total.Add(l.Amount)
	}
	return total
}

// AnomalyType names a detected discrepancy.
type AnomalyType string

const (
	AnomalyPriceVariance       AnomalyType = "price_variance"
	AnomalyExcessiveAmount     AnomalyType = "excessive_amount"
	AnomalyUnreferencedService AnomalyType = "unreferenced_service"
	AnomalyInvalidQuantity     AnomalyType = "invalid_quantity"
	AnomalySuspiciousUnitPrice AnomalyType = "suspicious_unit_price"
	AnomalyUnexpectedCharge    AnomalyType = "unexpected_charge"
	AnomalyExpectedUnavailable AnomalyType = "expected_cost_unavailable"
)

// Severity orders anomalies; a higher value is worse.
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Anomaly is a flagged discrepancy on one invoice line.
type Anomaly struct {
	ID                 string              `json:"id"`
	LineID             string              `json:"line_id"`
	LineNumber         int                 `json:"line_number"`
	Type               AnomalyType         `json:"type"`
	Severity           Severity            `json:"severity"`
	Description        string              `json:"description"`
	Expected           decimal.NullDecimal `json:"expected_value"`
	Actual             decimal.Decimal     `json:"actual_value"`
	Variance           decimal.NullDecimal `json:"variance"`
	VariancePercentage decimal.NullDecimal `json:"variance_percentage"`
}

// MatchConfidence tells how a surcharge line was joined to the estimate.
type MatchConfidence string

const (
	MatchExact     MatchConfidence = "exact"
	MatchHeuristic MatchConfidence = "heuristic"
	MatchNone      MatchConfidence = "none"
)

// LineValidation is the per-line verdict.
type LineValidation struct {
	LineID             string              `json:"line_id"`
	LineNumber         int                 `json:"line_number"`
	LineType           LineType            `json:"line_type"`
	Expected           decimal.NullDecimal `json:"expected_amount"`
	Actual             decimal.Decimal     `json:"actual_amount"`
	Variance           decimal.NullDecimal `json:"variance"`
	VariancePercentage decimal.NullDecimal `json:"variance_percentage"`
	Match              MatchConfidence     `json:"match_confidence,omitempty"`
	Anomalies          []Anomaly           `json:"anomalies"`
	Valid              bool                `json:"is_valid"`
}

// ValidationStatus is the control verdict, distinct from Status.
type ValidationStatus string

const (
	ValidationPassed       ValidationStatus = "passed"
	ValidationManualReview ValidationStatus = "manual_review"
	ValidationFailed       ValidationStatus = "failed"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Outcome is the result of controlling an invoice.
type Outcome struct {
	InvoiceID            string              `json:"invoice_id"`
	Status               Status              `json:"status"`
	ValidationStatus     ValidationStatus    `json:"validation_status"`
	RiskLevel            RiskLevel           `json:"risk_level"`
	RequiresManualReview bool                `json:"requires_manual_review"`
	ExpectedTotal        decimal.Decimal     `json:"expected_total"`
	ActualTotal          decimal.Decimal     `json:"actual_total"`
	Variance             decimal.Decimal     `json:"variance"`
	VariancePercentage   decimal.NullDecimal `json:"variance_percentage"`
	Anomalies            []Anomaly           `json:"anomalies"`
	LineValidations      []LineValidation    `json:"line_validations"`
	ControlledAt         time.Time           `json:"controlled_at"`
}

// ErrValidation matches every ValidationError.
var ErrValidation = errors.New("validation error")

// ErrAlreadyProcessed is returned when control is invoked on an invoice
// that has left the received status.
var ErrAlreadyProcessed = errors.New("invoice already processed")

// ValidationError reports malformed invoice input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Validate checks the fields control depends on.
func (inv Invoice) Validate() error {
	switch {
	case inv.ID == "":
		return &ValidationError{Field: "id", Reason: "is required"}
	case inv.Number == "":
		return &ValidationError{Field: "invoice_number", Reason: "is required"}
	case inv.CarrierID == "":
		return &ValidationError{Field: "carrier_id", Reason: "is required"}
	case inv.InvoiceDate.IsZero():
		return &ValidationError{Field: "invoice_date", Reason: "is required"}
	case len(inv.Lines) == 0:
		return &ValidationError{Field: "lines", Reason: "must not be empty"}
	}
	for i, l := range inv.Lines {
		if !l.Amount.IsPositive() {
			return &ValidationError{Field: fmt.Sprintf("lines[%d].amount", i), Reason: "must be positive"}
		}
	}
	return nil
}
