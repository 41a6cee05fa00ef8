package invoicecontrol_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freightcontrol/internal/costing"
	ic "freightcontrol/internal/invoicecontrol"
	"freightcontrol/internal/pricingrule"
	"freightcontrol/internal/rate"
	"freightcontrol/internal/store/memory"
	"freightcontrol/internal/surcharge"
	"freightcontrol/internal/tariff"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var shipDate = time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store     *memory.Store
	estimator *costing.Estimator
	engine    *ic.Engine
}

// newFixture prices shipment S-1 at 100 of transport: 100 km at 1.00/km,
// plus a catch-all segment markup of 10 that counts its usage.
func newFixture(t *testing.T) fixture {
	t.Helper()
	ms := memory.New()
	ms.PutRate(rate.Rate{ID: 1, Code: "FR-KM", Type: rate.PerKm, BaseRate: dec("1"), Currency: "EUR",
		Mode: tariff.ModeRoad, Priority: 1, Active: true})
	ms.PutSurcharge(surcharge.Surcharge{ID: 1, Code: "TOLL", Name: "Motorway toll", Type: surcharge.TypeToll,
		Method: surcharge.MethodFixed, Value: dec("15"), Mandatory: true, Active: true})
	ms.PutRule(pricingrule.Rule{ID: 1, Name: "handling", Scope: pricingrule.ScopeSegment, Active: true,
		Actions: []pricingrule.Action{{Type: pricingrule.FixedMarkup, Value: dec("10")}}})
	ms.PutShipment(costing.Shipment{ID: "S-1", Params: tariff.ShipmentParams{
		Mode:        tariff.ModeRoad,
		Origin:      tariff.Location{Country: "FR"},
		Destination: tariff.Location{Country: "FR"},
		Weight:      dec("800"),
		Distance:    dec("100"),
		ShipDate:    shipDate,
	}})

	rules, err := pricingrule.NewEngine(pricingrule.Deps{Source: ms, Recorder: ms})
	require.NoError(t, err)
	est, err := costing.NewEstimator(costing.Deps{
		Rates:      rate.NewResolver(ms, rate.TreatAsFlat, nil),
		Surcharges: surcharge.NewCalculator(ms, ms, nil),
		Rules:      rules,
		Contracts:  ms,
		Shipments:  ms,
	})
	require.NoError(t, err)
	eng, err := ic.NewEngine(ic.Deps{Store: ms, Estimator: est})
	require.NoError(t, err)
	return fixture{store: ms, estimator: est, engine: eng}
}

func (f fixture) receive(t *testing.T, number string, lines ...ic.Line) ic.Invoice {
	t.Helper()
	inv, err := f.engine.Receive(context.Background(), ic.Invoice{
		Number:      number,
		CarrierID:   "carrier-1",
		Currency:    "EUR",
		InvoiceDate: shipDate.AddDate(0, 0, 7),
		Lines:       lines,
	})
	require.NoError(t, err)
	return inv
}

func (f fixture) usage(t *testing.T) int64 {
	t.Helper()
	r, err := f.store.Rule(context.Background(), 1)
	require.NoError(t, err)
	return r.UsageCount
}

func transport(amount string) ic.Line {
	return ic.Line{Type: ic.LineTransport, ShipmentID: "S-1", Quantity: dec("1"), Amount: dec(amount)}
}

func TestControlInvoice_Passes(t *testing.T) {
	f := newFixture(t)
	inv := f.receive(t, "F-100",
		transport("100"),
		ic.Line{Type: ic.LineSurcharge, ShipmentID: "S-1", Description: "Motorway toll", Quantity: dec("1"), Amount: dec("15")},
	)

	out, err := f.engine.ControlInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, ic.ValidationPassed, out.ValidationStatus)
	assert.Equal(t, ic.RiskLow, out.RiskLevel)
	assert.Equal(t, ic.StatusValidated, out.Status)
	assert.False(t, out.RequiresManualReview)
	assert.Empty(t, out.Anomalies)
	require.Len(t, out.LineValidations, 2)
	assert.Equal(t, ic.MatchHeuristic, out.LineValidations[1].Match)
	assert.True(t, out.ExpectedTotal.Equal(dec("115")))

	stored, err := f.store.Invoice(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, ic.StatusValidated, stored.Status)
	assert.True(t, ic.PaymentAllowed(stored.Status))
}

func TestControlInvoice_CriticalLineFails(t *testing.T) {
	f := newFixture(t)
	inv := f.receive(t, "F-101",
		transport("230"),
		ic.Line{Type: ic.LineOther, ShipmentID: "S-1", Description: "admin", Quantity: dec("1"), Amount: dec("1")},
	)

	out, err := f.engine.ControlInvoice(context.Background(), inv.ID)
	require.NoError(t, err)

	var variance *ic.Anomaly
	for i := range out.Anomalies {
		if out.Anomalies[i].Type == ic.AnomalyPriceVariance && out.Anomalies[i].LineNumber == 1 {
			variance = &out.Anomalies[i]
		}
	}
	require.NotNil(t, variance)
	assert.Equal(t, ic.SeverityCritical, variance.Severity)
	assert.Equal(t, ic.ValidationFailed, out.ValidationStatus)
	assert.Equal(t, ic.RiskCritical, out.RiskLevel)
	assert.Equal(t, ic.StatusUnderReview, out.Status)
	assert.True(t, out.RequiresManualReview)
}

func TestControlInvoice_SecondControlIsRejected(t *testing.T) {
	f := newFixture(t)
	inv := f.receive(t, "F-102", transport("100"))

	_, err := f.engine.ControlInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	used := f.usage(t)
	assert.Equal(t, int64(1), used)
	before, err := f.store.Invoice(context.Background(), inv.ID)
	require.NoError(t, err)

	_, err = f.engine.ControlInvoice(context.Background(), inv.ID)
	assert.ErrorIs(t, err, ic.ErrAlreadyProcessed)
	assert.Equal(t, used, f.usage(t))

	after, err := f.store.Invoice(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// brokenSaveStore fails every control save.
type brokenSaveStore struct {
	*memory.Store
}

var errDBDown = errors.New("db down")

func (brokenSaveStore) SaveControl(context.Context, ic.Outcome, ic.Status) error {
	return errDBDown
}

func TestControlInvoice_FailedSaveLeavesInvoiceReceived(t *testing.T) {
	f := newFixture(t)
	inv := f.receive(t, "F-104", transport("100"))

	broken, err := ic.NewEngine(ic.Deps{Store: brokenSaveStore{f.store}, Estimator: f.estimator})
	require.NoError(t, err)
	_, err = broken.ControlInvoice(context.Background(), inv.ID)
	require.ErrorIs(t, err, errDBDown)

	stored, err := f.store.Invoice(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, ic.StatusReceived, stored.Status)
	assert.Empty(t, stored.ValidationStatus)
	assert.Nil(t, stored.ControlledAt)

	out, err := f.engine.ControlInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, ic.StatusValidated, out.Status)
}

// racedStore lets another control claim the invoice just before each save.
type racedStore struct {
	*memory.Store
}

func (r racedStore) SaveControl(ctx context.Context, out ic.Outcome, from ic.Status) error {
	if err := r.TransitionStatus(ctx, out.InvoiceID, ic.StatusReceived, ic.StatusUnderReview, "", time.Now()); err != nil {
		return err
	}
	return r.Store.SaveControl(ctx, out, from)
}

func TestControlInvoice_LosingConcurrentSaveIsAlreadyProcessed(t *testing.T) {
	f := newFixture(t)
	inv := f.receive(t, "F-105", transport("100"))

	raced, err := ic.NewEngine(ic.Deps{Store: racedStore{f.store}, Estimator: f.estimator})
	require.NoError(t, err)
	_, err = raced.ControlInvoice(context.Background(), inv.ID)
	assert.ErrorIs(t, err, ic.ErrAlreadyProcessed)

	stored, err := f.store.Invoice(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, ic.StatusUnderReview, stored.Status)
	assert.Nil(t, stored.ControlledAt)
}

func TestControlInvoice_MissingShipmentIsAnomalyNotFailure(t *testing.T) {
	f := newFixture(t)
	line := transport("100")
	line.ShipmentID = "S-404"
	inv := f.receive(t, "F-103", line)

	out, err := f.engine.ControlInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Len(t, out.Anomalies, 1)
	assert.Equal(t, ic.AnomalyUnreferencedService, out.Anomalies[0].Type)
	assert.Equal(t, ic.SeverityMedium, out.Anomalies[0].Severity)
	assert.Equal(t, ic.ValidationPassed, out.ValidationStatus)
	assert.Equal(t, ic.RiskMedium, out.RiskLevel)
	assert.False(t, out.VariancePercentage.Valid)
}

func TestControlInvoice_ZeroUnitPriceIsFlagged(t *testing.T) {
	f := newFixture(t)
	line := transport("100")
	line.UnitPrice = decimal.NewNullDecimal(decimal.Zero)
	inv := f.receive(t, "F-106", line)

	out, err := f.engine.ControlInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Len(t, out.Anomalies, 1)
	assert.Equal(t, ic.AnomalySuspiciousUnitPrice, out.Anomalies[0].Type)
	assert.Equal(t, ic.SeverityMedium, out.Anomalies[0].Severity)
	assert.Equal(t, 1, out.Anomalies[0].LineNumber)
}

func TestReceive_RejectsMalformedInvoice(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Receive(context.Background(), ic.Invoice{
		Number:      "F-104",
		CarrierID:   "carrier-1",
		InvoiceDate: shipDate,
		Lines:       []ic.Line{{Type: ic.LineTransport, Amount: dec("0")}},
	})
	assert.ErrorIs(t, err, ic.ErrValidation)

	var verr *ic.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "lines[0].amount", verr.Field)
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.receive(t, "F-105", transport("400"))

	out, err := f.engine.ControlInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ic.StatusUnderReview, out.Status)

	_, err = f.engine.Approve(ctx, inv.ID, "")
	assert.ErrorIs(t, err, ic.ErrInvalidTransition)

	got, err := f.engine.Dispute(ctx, inv.ID, "billed four times the agreed rate")
	require.NoError(t, err)
	assert.Equal(t, ic.StatusDisputed, got.Status)
	assert.Equal(t, "billed four times the agreed rate", got.StatusNote)

	got, err = f.engine.Reopen(ctx, inv.ID, "credit note received")
	require.NoError(t, err)
	assert.Equal(t, ic.StatusUnderReview, got.Status)

	got, err = f.engine.Validate(ctx, inv.ID, "")
	require.NoError(t, err)
	assert.Equal(t, ic.StatusValidated, got.Status)

	got, err = f.engine.Approve(ctx, inv.ID, "")
	require.NoError(t, err)
	assert.Equal(t, ic.StatusApproved, got.Status)

	_, err = f.engine.Reject(ctx, inv.ID, "too late")
	assert.ErrorIs(t, err, ic.ErrInvalidTransition)
}
