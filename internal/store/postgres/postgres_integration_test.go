package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freightcontrol/internal/costing"
	"freightcontrol/internal/db"
	"freightcontrol/internal/invoicecontrol"
	"freightcontrol/internal/pricingrule"
	"freightcontrol/internal/rate"
	"freightcontrol/internal/store"
	"freightcontrol/internal/surcharge"
	"freightcontrol/internal/tariff"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, dbURL, db.PoolOptions{AppName: "freightcontrol-test"})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := New(pool)
	require.NoError(t, s.Migrate(ctx))
	return s
}

// testID returns a row id unlikely to collide with other runs.
func testID() int64 {
	return int64(uuid.New().ID())
}

func TestRatesAndRulesIntegration(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id := testID()
	require.NoError(t, s.PutRate(ctx, rate.Rate{
		ID: id, Code: "IT-KM", Type: rate.PerKm, BaseRate: decimal.RequireFromString("1.2"),
		MinCharge: decimal.NewNullDecimal(decimal.RequireFromString("50")), Currency: "EUR",
		Mode: tariff.ModeRoad, Weight: tariff.AtMost(decimal.RequireFromString("1000")), Active: true,
	}))
	t.Cleanup(func() { _, _ = s.db.Exec(context.Background(), `DELETE FROM rates WHERE id = $1`, id) })

	rates, err := s.ActiveRates(ctx, tariff.ModeRoad)
	require.NoError(t, err)
	var got *rate.Rate
	for i := range rates {
		if rates[i].ID == id {
			got = &rates[i]
		}
	}
	require.NotNil(t, got)
	assert.True(t, got.BaseRate.Equal(decimal.RequireFromString("1.2")))
	assert.True(t, got.MinCharge.Valid)
	assert.False(t, got.Weight.Min.Valid)
	assert.True(t, got.Weight.Max.Decimal.Equal(decimal.RequireFromString("1000")))

	ruleID := testID()
	require.NoError(t, s.PutRule(ctx, pricingrule.Rule{
		ID: ruleID, Name: "night", Scope: pricingrule.ScopeSegment, Active: true,
		Conditions: []pricingrule.Condition{{Kind: pricingrule.WeightRange, Range: tariff.AtLeast(decimal.RequireFromString("500"))}},
		Actions:    []pricingrule.Action{{Type: pricingrule.PercentageMarkup, Value: decimal.RequireFromString("5")}},
	}))
	t.Cleanup(func() { _, _ = s.db.Exec(context.Background(), `DELETE FROM pricing_rules WHERE id = $1`, ruleID) })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.RecordUsage(ctx, ruleID, time.Now()))
		}()
	}
	wg.Wait()

	r, err := s.Rule(ctx, ruleID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), r.UsageCount)
	require.Len(t, r.Conditions, 1)
	assert.Equal(t, pricingrule.WeightRange, r.Conditions[0].Kind)

	assert.ErrorIs(t, s.RecordUsage(ctx, -1, time.Now()), store.ErrNotFound)
}

func TestSurchargeAndFuelIntegration(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	id := testID()
	require.NoError(t, s.PutSurcharge(ctx, surcharge.Surcharge{
		ID: id, Code: "NIGHT", Name: "Night delivery", Type: surcharge.TypeNight, Method: surcharge.MethodFixed,
		Value: decimal.RequireFromString("25"), Weekdays: []time.Weekday{time.Saturday, time.Sunday},
		Hours:     &tariff.ClockWindow{From: tariff.Clock{Hour: 22}, To: tariff.Clock{Hour: 6}},
		Mandatory: true, Active: true,
	}))
	t.Cleanup(func() { _, _ = s.db.Exec(context.Background(), `DELETE FROM surcharges WHERE id = $1`, id) })

	all, err := s.ActiveSurcharges(ctx)
	require.NoError(t, err)
	var got *surcharge.Surcharge
	for i := range all {
		if all[i].ID == id {
			got = &all[i]
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, []time.Weekday{time.Saturday, time.Sunday}, got.Weekdays)
	require.NotNil(t, got.Hours)
	assert.Equal(t, "22:00", got.Hours.From.String())

	day := time.Date(1999, 1, 4, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutFuelPrice(ctx, day, decimal.RequireFromString("1.55")))
	t.Cleanup(func() { _, _ = s.db.Exec(context.Background(), `DELETE FROM fuel_prices WHERE effective_date = $1::date`, day) })

	p, err := s.FuelPrice(ctx, day.Add(30*time.Hour))
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("1.55")))
}

func TestShipmentIntegration(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	orderID := "O-" + uuid.NewString()
	shipID := "S-" + uuid.NewString()
	at := time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC)
	params := tariff.ShipmentParams{
		Mode: tariff.ModeRoad, Origin: tariff.Location{Country: "FR"}, Destination: tariff.Location{Country: "DE", Zone: "BY"},
		Weight: decimal.RequireFromString("800"), Distance: decimal.RequireFromString("500"), ShipDate: at,
	}
	require.NoError(t, s.PutOrder(ctx, costing.Order{ID: orderID}))
	require.NoError(t, s.PutShipment(ctx, costing.Shipment{
		ID: shipID, OrderID: orderID, Params: params,
		Segments: []costing.Segment{
			{ID: shipID + "-2", Sequence: 2, Params: params},
			{ID: shipID + "-1", Sequence: 1, Params: params},
		},
	}))
	t.Cleanup(func() {
		_, _ = s.db.Exec(context.Background(), `DELETE FROM shipments WHERE id = $1`, shipID)
		_, _ = s.db.Exec(context.Background(), `DELETE FROM orders WHERE id = $1`, orderID)
	})

	sh, err := s.Shipment(ctx, shipID)
	require.NoError(t, err)
	require.Len(t, sh.Segments, 2)
	assert.Equal(t, shipID+"-1", sh.Segments[0].ID)
	assert.Equal(t, "BY", sh.Params.Destination.Zone)
	assert.True(t, sh.Params.ShipDate.Equal(at))

	o, err := s.Order(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, []string{shipID}, o.ShipmentIDs)

	_, err = s.Shipment(ctx, "S-missing-"+uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInvoiceLifecycleIntegration(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	inv := invoicecontrol.Invoice{
		ID: uuid.NewString(), Number: "INT-" + uuid.NewString(), CarrierID: "carrier-it", Currency: "EUR",
		InvoiceDate: time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC), Status: invoicecontrol.StatusReceived,
		TotalAmount: decimal.RequireFromString("115"), ReceivedAt: now, UpdatedAt: now,
		Lines: []invoicecontrol.Line{
			{ID: uuid.NewString(), Number: 1, Type: invoicecontrol.LineTransport, ShipmentID: "S-1",
				Quantity: decimal.RequireFromString("1"), Amount: decimal.RequireFromString("100")},
			{ID: uuid.NewString(), Number: 2, Type: invoicecontrol.LineSurcharge, SurchargeID: 4,
				Quantity: decimal.RequireFromString("1"), Amount: decimal.RequireFromString("15")},
		},
	}
	require.NoError(t, s.CreateInvoice(ctx, inv))
	t.Cleanup(func() { _, _ = s.db.Exec(context.Background(), `DELETE FROM carrier_invoices WHERE id = $1`, inv.ID) })

	dup := inv
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, s.CreateInvoice(ctx, dup), store.ErrConflict)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.TransitionStatus(ctx, inv.ID, invoicecontrol.StatusReceived, invoicecontrol.StatusUnderReview, "", now)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, store.ErrConflict)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	require.NoError(t, s.SaveControl(ctx, invoicecontrol.Outcome{
		InvoiceID: inv.ID, Status: invoicecontrol.StatusUnderReview,
		ValidationStatus: invoicecontrol.ValidationFailed, RiskLevel: invoicecontrol.RiskHigh,
		ExpectedTotal:      decimal.RequireFromString("110"),
		VariancePercentage: decimal.NewNullDecimal(decimal.RequireFromString("4.55")),
		Anomalies: []invoicecontrol.Anomaly{{
			ID: uuid.NewString(), LineID: inv.Lines[1].ID, LineNumber: 2,
			Type: invoicecontrol.AnomalyUnexpectedCharge, Severity: invoicecontrol.SeverityHigh,
			Description: "no matching surcharge", Expected: decimal.NewNullDecimal(decimal.Zero),
			Actual: decimal.RequireFromString("15"),
		}},
		ControlledAt: now,
	}, invoicecontrol.StatusUnderReview))
	assert.ErrorIs(t, s.SaveControl(ctx, invoicecontrol.Outcome{InvoiceID: inv.ID}, invoicecontrol.StatusReceived), store.ErrConflict)

	got, err := s.Invoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicecontrol.StatusUnderReview, got.Status)
	assert.Equal(t, invoicecontrol.RiskHigh, got.RiskLevel)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, int64(4), got.Lines[1].SurchargeID)
	require.Len(t, got.Anomalies, 1)
	assert.False(t, got.Anomalies[0].Variance.Valid)
	require.NotNil(t, got.ControlledAt)
	assert.True(t, got.ExpectedTotal.Decimal.Equal(decimal.RequireFromString("110")))

	err = s.TransitionStatus(ctx, uuid.NewString(), invoicecontrol.StatusReceived, invoicecontrol.StatusUnderReview, "", now)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
