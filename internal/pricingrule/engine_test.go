package pricingrule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freightcontrol/internal/tariff"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type staticRules []Rule

func (s staticRules) ActiveRules(context.Context, Scope) ([]Rule, error) { return s, nil }

type countingRecorder struct {
	mu     sync.Mutex
	counts map[int64]int
	err    error
}

func (c *countingRecorder) RecordUsage(_ context.Context, id int64, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[int64]int{}
	}
	c.counts[id]++
	return c.err
}

func baseContext(amount string) Context {
	return Context{
		Amount:      dec(amount),
		Weight:      dec("1500"),
		Volume:      dec("6"),
		Value:       dec("25000"),
		Distance:    dec("320"),
		Mode:        tariff.ModeRoad,
		Origin:      tariff.Location{Country: "FR"},
		Destination: tariff.Location{Country: "BE"},
		At:          time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC),
	}
}

func TestApplyAdjustment(t *testing.T) {
	cases := []struct {
		name   string
		amount string
		action Action
		want   string
	}{
		{"percentage discount", "200", Action{PercentageDiscount, dec("10")}, "-20"},
		{"percentage markup", "200", Action{PercentageMarkup, dec("7.5")}, "15"},
		{"fixed discount", "200", Action{FixedDiscount, dec("30")}, "-30"},
		{"fixed discount capped", "50", Action{FixedDiscount, dec("100")}, "-50"},
		{"fixed markup", "50", Action{FixedMarkup, dec("12")}, "12"},
		{"set rate down", "180", Action{SetRate, dec("150")}, "-30"},
		{"set rate up", "120", Action{SetRate, dec("150")}, "30"},
		{"unknown", "120", Action{AdjustmentType("bogus"), dec("150")}, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ApplyAdjustment(dec(tc.amount), tc.action)
			assert.True(t, got.Equal(dec(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestConditionMatches(t *testing.T) {
	c := baseContext("100")
	assert.True(t, Condition{Kind: WeightRange, Range: tariff.NewRange(dec("1000"), dec("2000"))}.Matches(c))
	assert.False(t, Condition{Kind: VolumeRange, Range: tariff.AtLeast(dec("10"))}.Matches(c))
	assert.True(t, Condition{Kind: ValueRange, Range: tariff.AtLeast(dec("20000"))}.Matches(c))
	assert.True(t, Condition{Kind: DistanceRange, Range: tariff.AtMost(dec("500"))}.Matches(c))
	assert.True(t, Condition{Kind: TimeRange, Clock: tariff.ClockWindow{From: tariff.Clock{Hour: 8}, To: tariff.Clock{Hour: 12}}}.Matches(c))
	assert.False(t, Condition{Kind: ModeEquals, Mode: tariff.ModeSea}.Matches(c))
	assert.True(t, Condition{Kind: OriginEquals, Geo: tariff.GeoScope{Country: "FR"}}.Matches(c))
	assert.False(t, Condition{Kind: DestinationEquals, Geo: tariff.GeoScope{Country: "NL"}}.Matches(c))
	assert.False(t, Condition{Kind: ConditionKind("moon_phase")}.Matches(c))
}

func TestEvaluate_OrderAndCatchAll(t *testing.T) {
	rules := []Rule{
		{ID: 3, Name: "heavy markup", Priority: 1, Active: true,
			Conditions: []Condition{{Kind: WeightRange, Range: tariff.AtLeast(dec("1000"))}},
			Actions:    []Action{{FixedMarkup, dec("25")}}},
		{ID: 1, Name: "loyalty", Priority: 10, Active: true,
			Actions: []Action{{PercentageDiscount, dec("10")}}},
		{ID: 2, Name: "sea only", Priority: 5, Active: true,
			Conditions: []Condition{{Kind: ModeEquals, Mode: tariff.ModeSea}},
			Actions:    []Action{{SetRate, dec("1")}}},
		{ID: 4, Name: "disabled", Priority: 99, Active: false},
	}
	res := Evaluate(rules, baseContext("400"))

	require.Len(t, res.RuleResults, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{res.RuleResults[0].RuleID, res.RuleResults[1].RuleID, res.RuleResults[2].RuleID})
	assert.True(t, res.RuleResults[0].ConditionsMet, "rule without conditions is a catch-all")
	assert.False(t, res.RuleResults[1].ConditionsMet)
	assert.Len(t, res.ApplicableRules, 2)

	// 400 - 10% = 360, + 25 = 385
	assert.True(t, res.RuleResults[0].After.Equal(dec("360")))
	assert.True(t, res.RuleResults[2].Before.Equal(dec("360")))
	assert.True(t, res.FinalAmount.Equal(dec("385")))
	assert.True(t, res.TotalAdjustment.Equal(dec("-15")))
}

func TestEvaluate_ScopeAndValidity(t *testing.T) {
	expired := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rules := []Rule{
		{ID: 1, Scope: ScopeShipment, Active: true, Actions: []Action{{FixedMarkup, dec("5")}}},
		{ID: 2, Scope: ScopeSegment, Active: true, Actions: []Action{{FixedMarkup, dec("7")}}},
		{ID: 3, Active: true, Validity: tariff.Window{Expiry: &expired}, Actions: []Action{{FixedMarkup, dec("100")}}},
	}
	c := baseContext("10")
	c.Scope = ScopeSegment
	res := Evaluate(rules, c)
	require.Len(t, res.ApplicableRules, 1)
	assert.Equal(t, int64(2), res.ApplicableRules[0].ID)
	assert.True(t, res.FinalAmount.Equal(dec("17")))
}

func TestEngineApply_RecordsUsageOncePerFiredRule(t *testing.T) {
	rec := &countingRecorder{}
	eng, err := NewEngine(Deps{
		Source: staticRules{
			{ID: 1, Active: true, Actions: []Action{{PercentageDiscount, dec("5")}}},
			{ID: 2, Active: true, Conditions: []Condition{{Kind: ModeEquals, Mode: tariff.ModeAir}}},
		},
		Recorder: rec,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Apply(context.Background(), baseContext("100"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 25, rec.counts[1])
	assert.Zero(t, rec.counts[2])
}

func TestEngineApply_RecorderFailureIsNotFatal(t *testing.T) {
	eng, err := NewEngine(Deps{
		Source:   staticRules{{ID: 1, Active: true, Actions: []Action{{FixedMarkup, dec("1")}}}},
		Recorder: &countingRecorder{err: errors.New("db down")},
	})
	require.NoError(t, err)
	res, err := eng.Apply(context.Background(), baseContext("10"))
	require.NoError(t, err)
	assert.True(t, res.FinalAmount.Equal(dec("11")))
}

func TestNewEngine_RequiresSource(t *testing.T) {
	_, err := NewEngine(Deps{})
	assert.Error(t, err)
}
