// Package invoicecontrol compares carrier invoices against the estimated
// cost of the shipments they bill, flags anomalies and drives the invoice
// status machine.
package invoicecontrol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"freightcontrol/internal/costing"
	"freightcontrol/internal/store"
	"freightcontrol/internal/tariff"
)

// Store persists invoices. TransitionStatus and SaveControl are conditional
// updates: they fail with store.ErrConflict unless the invoice is currently
// in from.
type Store interface {
	Invoice(ctx context.Context, id string) (Invoice, error)
	CreateInvoice(ctx context.Context, inv Invoice) error
	TransitionStatus(ctx context.Context, id string, from, to Status, note string, at time.Time) error
	SaveControl(ctx context.Context, out Outcome, from Status) error
}

// Estimator supplies the expected cost of a shipment.
type Estimator interface {
	EstimateShipmentCost(ctx context.Context, shipmentID string, opts costing.Options) (costing.Breakdown, error)
}

type Deps struct {
	Store     Store
	Estimator Estimator
	Now       func() time.Time
	Workers   int
	Logger    *zap.Logger
}

// Engine runs invoice control and lifecycle transitions.
type Engine struct {
	store     Store
	estimator Estimator
	now       func() time.Time
	workers   int
	logger    *zap.Logger
}

func NewEngine(deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("invoice control: store is required")
	}
	if deps.Estimator == nil {
		return nil, errors.New("invoice control: estimator is required")
	}
	e := &Engine{store: deps.Store, estimator: deps.Estimator, now: deps.Now, workers: deps.Workers, logger: deps.Logger}
	if e.now == nil {
		e.now = time.Now
	}
	if e.workers <= 0 {
		e.workers = 4
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e, nil
}

// Receive stores a new carrier invoice in the received status.
func (e *Engine) Receive(ctx context.Context, inv Invoice) (Invoice, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	for i := range inv.Lines {
		if inv.Lines[i].ID == "" {
			inv.Lines[i].ID = uuid.NewString()
		}
		if inv.Lines[i].Number == 0 {
			inv.Lines[i].Number = i + 1
		}
		if inv.Lines[i].Type == "" {
			inv.Lines[i].Type = LineOther
		}
	}
	if inv.TotalAmount.IsZero() {
		inv.TotalAmount = inv.LinesTotal()
	}
	if err := inv.Validate(); err != nil {
		return Invoice{}, err
	}
	now := e.now().UTC()
	inv.Status = StatusReceived
	inv.ReceivedAt = now
	inv.UpdatedAt = now
	inv.Anomalies = []Anomaly{}
	if err := e.store.CreateInvoice(ctx, inv); err != nil {
		return Invoice{}, err
	}
	e.logger.Info("invoice received",
		zap.String("invoice_id", inv.ID),
		zap.String("invoice_number", inv.Number),
		zap.String("carrier_id", inv.CarrierID),
		zap.Int("lines", len(inv.Lines)),
	)
	return inv, nil
}

type estimate struct {
	breakdown costing.Breakdown
	err       error
}

// ControlInvoice compares a received invoice against the estimated cost of
// the shipments its lines reference. An invoice is controlled at most once:
// anything but the received status yields ErrAlreadyProcessed. The outcome
// and the status change are stored in a single conditional write, so a
// failed save leaves the invoice received. Estimation failures become line
// anomalies, never a failed control.
func (e *Engine) ControlInvoice(ctx context.Context, invoiceID string) (Outcome, error) {
	inv, err := e.store.Invoice(ctx, invoiceID)
	if err != nil {
		return Outcome{}, err
	}
	if inv.Status != StatusReceived {
		return Outcome{}, fmt.Errorf("%w: invoice %s is %s", ErrAlreadyProcessed, invoiceID, inv.Status)
	}
	if err := inv.Validate(); err != nil {
		return Outcome{}, err
	}

	reviewing, err := Transition(inv.Status, EventControl)
	if err != nil {
		return Outcome{}, err
	}

	estimates := e.estimateShipments(ctx, inv)

	out := Outcome{
		InvoiceID:       inv.ID,
		ExpectedTotal:   decimal.Zero,
		ActualTotal:     decimal.Zero,
		Anomalies:       []Anomaly{},
		LineValidations: make([]LineValidation, 0, len(inv.Lines)),
	}
	compared := false
	for _, l := range inv.Lines {
		lv := e.validateLine(l, estimates)
		if lv.Expected.Valid {
			compared = true
			out.ExpectedTotal = out.ExpectedTotal.Add(lv.Expected.Decimal)
			out.ActualTotal = out.ActualTotal.Add(l.Amount)
		}
		out.Anomalies = append(out.Anomalies, lv.Anomalies...)
		out.LineValidations = append(out.LineValidations, lv)
	}
	out.Variance = out.ActualTotal.Sub(out.ExpectedTotal)
	if compared {
		if pct, ok := tariff.VariancePercent(out.ActualTotal, out.ExpectedTotal); ok {
			out.VariancePercentage = decimal.NewNullDecimal(pct)
		}
	}

	out.ValidationStatus, out.RiskLevel, out.RequiresManualReview = classify(out.Anomalies, out.VariancePercentage)
	event := EventFlag
	if out.ValidationStatus == ValidationPassed {
		event = EventPass
	}
	if out.Status, err = Transition(reviewing, event); err != nil {
		return Outcome{}, err
	}
	out.ControlledAt = e.now().UTC()

	if err := e.store.SaveControl(ctx, out, StatusReceived); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Outcome{}, fmt.Errorf("%w: invoice %s was controlled concurrently", ErrAlreadyProcessed, invoiceID)
		}
		return Outcome{}, fmt.Errorf("save control of invoice %s: %w", invoiceID, err)
	}
	e.logger.Info("invoice controlled",
		zap.String("invoice_id", inv.ID),
		zap.String("validation_status", string(out.ValidationStatus)),
		zap.String("risk_level", string(out.RiskLevel)),
		zap.String("status", string(out.Status)),
		zap.Int("anomalies", len(out.Anomalies)),
	)
	return out, nil
}

// estimateShipments prices each referenced shipment once. Optional
// surcharges are included because carriers bill what they actually ran.
func (e *Engine) estimateShipments(ctx context.Context, inv Invoice) map[string]estimate {
	ids := make([]string, 0)
	seen := map[string]bool{}
	for _, l := range inv.Lines {
		if l.ShipmentID != "" && !seen[l.ShipmentID] {
			seen[l.ShipmentID] = true
			ids = append(ids, l.ShipmentID)
		}
	}
	opts := costing.Options{ContractID: inv.ContractID, IncludeOptionalSurcharges: true}
	results := make([]estimate, len(ids))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			b, err := e.estimator.EstimateShipmentCost(ctx, id, opts)
			if err != nil {
				e.logger.Warn("expected cost unavailable",
					zap.String("invoice_id", inv.ID),
					zap.String("shipment_id", id),
					zap.Error(err),
				)
			}
			results[i] = estimate{breakdown: b, err: err}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]estimate, len(ids))
	for i, id := range ids {
		out[id] = results[i]
	}
	return out
}

func (e *Engine) validateLine(l Line, estimates map[string]estimate) LineValidation {
	lv := LineValidation{
		LineID:     l.ID,
		LineNumber: l.Number,
		LineType:   l.Type,
		Actual:     l.Amount,
	}
	var extra []Anomaly
	if l.ShipmentID != "" {
		est := estimates[l.ShipmentID]
		switch {
		case est.err == nil:
			amount, match := expectedFor(l, est.breakdown)
			lv.Expected = decimal.NewNullDecimal(amount)
			lv.Match = match
		case errors.Is(est.err, store.ErrNotFound):
			extra = append(extra, newAnomaly(l, AnomalyUnreferencedService, SeverityMedium,
				fmt.Sprintf("referenced shipment %s does not exist", l.ShipmentID)))
		default:
			extra = append(extra, newAnomaly(l, AnomalyExpectedUnavailable, SeverityMedium,
				fmt.Sprintf("expected cost unavailable: %v", est.err)))
		}
	}
	if lv.Expected.Valid {
		lv.Variance = decimal.NewNullDecimal(l.Amount.Sub(lv.Expected.Decimal))
		if pct, ok := tariff.VariancePercent(l.Amount, lv.Expected.Decimal); ok {
			lv.VariancePercentage = decimal.NewNullDecimal(pct)
		}
	}
	lv.Anomalies = append(checkLine(l, lv.Expected), extra...)
	lv.Valid = len(lv.Anomalies) == 0
	return lv
}

// Invoice returns the stored invoice with its last control results.
func (e *Engine) Invoice(ctx context.Context, invoiceID string) (Invoice, error) {
	return e.store.Invoice(ctx, invoiceID)
}

// Validate signs off an invoice left under review.
func (e *Engine) Validate(ctx context.Context, invoiceID, note string) (Invoice, error) {
	return e.apply(ctx, invoiceID, EventValidate, note)
}

// Approve approves a validated invoice for payment.
func (e *Engine) Approve(ctx context.Context, invoiceID, note string) (Invoice, error) {
	return e.apply(ctx, invoiceID, EventApprove, note)
}

func (e *Engine) Dispute(ctx context.Context, invoiceID, reason string) (Invoice, error) {
	return e.apply(ctx, invoiceID, EventDispute, reason)
}

func (e *Engine) Reject(ctx context.Context, invoiceID, reason string) (Invoice, error) {
	return e.apply(ctx, invoiceID, EventReject, reason)
}

// Reopen puts a disputed invoice back under review.
func (e *Engine) Reopen(ctx context.Context, invoiceID, note string) (Invoice, error) {
	return e.apply(ctx, invoiceID, EventReopen, note)
}

func (e *Engine) apply(ctx context.Context, invoiceID string, ev Event, note string) (Invoice, error) {
	inv, err := e.store.Invoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	next, err := Transition(inv.Status, ev)
	if err != nil {
		return Invoice{}, err
	}
	if err := e.store.TransitionStatus(ctx, invoiceID, inv.Status, next, note, e.now().UTC()); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Invoice{}, fmt.Errorf("%w: invoice %s changed concurrently", ErrInvalidTransition, invoiceID)
		}
		return Invoice{}, err
	}
	e.logger.Info("invoice status changed",
		zap.String("invoice_id", invoiceID),
		zap.String("from", string(inv.Status)),
		zap.String("to", string(next)),
		zap.String("event", string(ev)),
	)
	return e.store.Invoice(ctx, invoiceID)
}
