package pricingrule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Source supplies candidate rules for a scope. An empty scope asks for all.
type Source interface {
	ActiveRules(ctx context.Context, scope Scope) ([]Rule, error)
}

// UsageRecorder persists the firing of a rule. Implementations must
// increment atomically so concurrent evaluations never lose a count.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, ruleID int64, at time.Time) error
}

// ActionResult is the audit record of one executed action.
type ActionResult struct {
	Type       AdjustmentType  `json:"adjustment_type"`
	Value      decimal.Decimal `json:"value"`
	Before     decimal.Decimal `json:"before"`
	Adjustment decimal.Decimal `json:"adjustment"`
	After      decimal.Decimal `json:"after"`
}

// RuleResult is the outcome of evaluating one rule.
type RuleResult struct {
	RuleID        int64           `json:"rule_id"`
	Name          string          `json:"name"`
	Priority      int             `json:"priority"`
	ConditionsMet bool            `json:"conditions_met"`
	Before        decimal.Decimal `json:"before"`
	After         decimal.Decimal `json:"after"`
	Actions       []ActionResult  `json:"actions,omitempty"`
}

// Result is the outcome of a full evaluation pass.
type Result struct {
	ApplicableRules []Rule          `json:"applicable_rules"`
	RuleResults     []RuleResult    `json:"rule_results"`
	OriginalAmount  decimal.Decimal `json:"original_amount"`
	FinalAmount     decimal.Decimal `json:"final_amount"`
	TotalAdjustment decimal.Decimal `json:"total_adjustment"`
}

// Fired returns the results of rules whose conditions were met.
func (r Result) Fired() []RuleResult {
	out := make([]RuleResult, 0, len(r.ApplicableRules))
	for _, rr := range r.RuleResults {
		if rr.ConditionsMet {
			out = append(out, rr)
		}
	}
	return out
}

func inScope(r Rule, scope Scope) bool {
	if scope == "" || r.Scope == "" {
		return true
	}
	return r.Scope == scope
}

// Evaluate runs rules against c without side effects. Active rules valid
// at c.At are visited by priority descending (ties by lowest id); each rule
// whose conditions hold executes its actions in order on the running
// amount.
func Evaluate(rules []Rule, c Context) Result {
	candidates := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Active && r.Validity.Contains(c.At) && inScope(r, c.Scope) {
			candidates = append(candidates, r)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].ID < candidates[j].ID
	})

	res := Result{
		ApplicableRules: []Rule{},
		RuleResults:     make([]RuleResult, 0, len(candidates)),
		OriginalAmount:  c.Amount,
	}
	amount := c.Amount
	for _, r := range candidates {
		rr := RuleResult{RuleID: r.ID, Name: r.Name, Priority: r.Priority, Before: amount, After: amount}
		if r.ConditionsMet(c) {
			rr.ConditionsMet = true
			res.ApplicableRules = append(res.ApplicableRules, r)
			for _, a := range r.Actions {
				delta := ApplyAdjustment(amount, a)
				rr.Actions = append(rr.Actions, ActionResult{
					Type:       a.Type,
					Value:      a.Value,
					Before:     amount,
					Adjustment: delta,
					After:      amount.Add(delta),
				})
				amount = amount.Add(delta)
			}
			rr.After = amount
		}
		res.RuleResults = append(res.RuleResults, rr)
	}
	res.FinalAmount = amount
	res.TotalAdjustment = amount.Sub(c.Amount)
	return res
}

// Engine evaluates stored rules and records their usage.
type Engine struct {
	source   Source
	recorder UsageRecorder
	now      func() time.Time
	logger   *zap.Logger
}

// Deps groups the engine collaborators. Recorder may be nil, in which case
// usage is not tracked.
type Deps struct {
	Source   Source
	Recorder UsageRecorder
	Now      func() time.Time
	Logger   *zap.Logger
}

// NewEngine builds a rule engine.
func NewEngine(deps Deps) (*Engine, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("pricing rule engine: source is required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{source: deps.Source, recorder: deps.Recorder, now: now, logger: logger}, nil
}

// Apply evaluates every active rule of c.Scope against c and records one
// usage per fired rule. A failed usage write is logged, never fatal to
// pricing.
func (e *Engine) Apply(ctx context.Context, c Context) (Result, error) {
	rules, err := e.source.ActiveRules(ctx, c.Scope)
	if err != nil {
		return Result{}, fmt.Errorf("load pricing rules: %w", err)
	}
	res := Evaluate(rules, c)
	if len(res.ApplicableRules) == 0 {
		return res, nil
	}
	at := e.now().UTC()
	for _, r := range res.ApplicableRules {
		e.logger.Debug("pricing rule fired", zap.Int64("rule_id", r.ID), zap.String("rule", r.Name), zap.String("scope", string(c.Scope)))
		if e.recorder == nil {
			continue
		}
		if err := e.recorder.RecordUsage(ctx, r.ID, at); err != nil {
			e.logger.Warn("record rule usage failed", zap.Int64("rule_id", r.ID), zap.Error(err))
		}
	}
	return res, nil
}
