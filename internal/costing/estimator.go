// Package costing prices segments, shipments and orders by running the
// rating pipeline: base transport cost, surcharges, segment pricing rules,
// then taxes. Shipment-scope rules run once more over the taxed total.
package costing

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"freightcontrol/internal/pricingrule"
	"freightcontrol/internal/rate"
	"freightcontrol/internal/surcharge"
	"freightcontrol/internal/tariff"
	"freightcontrol/internal/tax"
)

// RateSelector picks the rate used for a segment.
type RateSelector interface {
	Best(ctx context.Context, p tariff.ShipmentParams) (rate.Rate, error)
	Policy() rate.UnknownTypePolicy
}

// SurchargeStacker computes the surcharge stack on a base cost.
type SurchargeStacker interface {
	Calculate(ctx context.Context, base decimal.Decimal, p tariff.ShipmentParams, scope surcharge.Scope) (surcharge.Result, error)
}

// RuleApplier applies pricing rules to an amount.
type RuleApplier interface {
	Apply(ctx context.Context, c pricingrule.Context) (pricingrule.Result, error)
}

// Options tune a single estimate.
type Options struct {
	// ContractID prices against the contract's lines instead of the rate
	// table.
	ContractID string `json:"contract_id,omitempty"`
	// IncludeOptionalSurcharges applies every non-mandatory surcharge.
	IncludeOptionalSurcharges bool `json:"include_optional_surcharges,omitempty"`
	// Surcharges lists optional surcharge codes to apply.
	Surcharges []string `json:"surcharges,omitempty"`
	// SkipPricingRules leaves rule adjustments out.
	SkipPricingRules bool `json:"skip_pricing_rules,omitempty"`
}

// Deps groups the estimator collaborators. Rules, Contracts and Shipments
// may be nil when the matching operations are not used.
type Deps struct {
	Rates      RateSelector
	Surcharges SurchargeStacker
	Rules      RuleApplier
	Contracts  ContractSource
	Shipments  ShipmentSource
	Workers    int
	Currency   string
	Logger     *zap.Logger
}

// Estimator is the cost estimator. It is safe for concurrent use.
type Estimator struct {
	rates      RateSelector
	surcharges SurchargeStacker
	rules      RuleApplier
	contracts  ContractSource
	shipments  ShipmentSource
	workers    int
	currency   string
	logger     *zap.Logger
}

func NewEstimator(deps Deps) (*Estimator, error) {
	if deps.Rates == nil {
		return nil, errors.New("cost estimator: rate selector is required")
	}
	if deps.Surcharges == nil {
		return nil, errors.New("cost estimator: surcharge calculator is required")
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = 4
	}
	currency := deps.Currency
	if currency == "" {
		currency = "EUR"
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{
		rates:      deps.Rates,
		surcharges: deps.Surcharges,
		rules:      deps.Rules,
		contracts:  deps.Contracts,
		shipments:  deps.Shipments,
		workers:    workers,
		currency:   currency,
		logger:     logger,
	}, nil
}

// EstimateSegmentCost prices one leg. It returns rate.ErrNoApplicableRate
// when neither the rate table nor the requested contract covers p.
func (e *Estimator) EstimateSegmentCost(ctx context.Context, p tariff.ShipmentParams, opts Options) (Breakdown, error) {
	return e.segment(ctx, "", p, opts)
}

func (e *Estimator) segment(ctx context.Context, segmentID string, p tariff.ShipmentParams, opts Options) (Breakdown, error) {
	b := emptyBreakdown(e.currency)
	scope := surcharge.Scope{
		PartnerID:       p.PartnerID,
		ContractID:      p.ContractID,
		IncludeOptional: opts.IncludeOptionalSurcharges,
		Requested:       opts.Surcharges,
	}

	if opts.ContractID != "" {
		lines, currency, err := e.contractLines(ctx, segmentID, opts.ContractID, p)
		if err != nil {
			return Breakdown{}, err
		}
		if currency != "" {
			b.Currency = currency
		}
		b.Lines = lines
		scope.ContractID = opts.ContractID
	} else {
		r, err := e.rates.Best(ctx, p)
		if err != nil {
			return Breakdown{}, err
		}
		charge, err := r.Calculate(p, e.rates.Policy())
		if err != nil {
			return Breakdown{}, fmt.Errorf("rate %d: %w", r.ID, err)
		}
		if r.Currency != "" {
			b.Currency = r.Currency
		}
		b.Lines = append(b.Lines, LineCost{
			SegmentID:  segmentID,
			RateID:     r.ID,
			RateCode:   r.Code,
			ContractID: r.ContractID,
			RateType:   r.Type,
			Quantity:   charge.Quantity,
			UnitRate:   charge.UnitRate,
			Amount:     charge.Amount,
			MinApplied: charge.MinApplied,
		})
		scope.RateID = r.ID
	}
	for _, l := range b.Lines {
		b.TransportCost = b.TransportCost.Add(l.Amount)
	}

	stack, err := e.surcharges.Calculate(ctx, b.TransportCost, p, scope)
	if err != nil {
		return Breakdown{}, err
	}
	b.Surcharges = append(b.Surcharges, stack.Items...)
	b.SurchargesTotal = stack.Total

	taxable := b.TransportCost.Add(b.SurchargesTotal)
	if e.rules != nil && !opts.SkipPricingRules {
		res, err := e.rules.Apply(ctx, pricingrule.ContextFor(p, taxable, pricingrule.ScopeSegment))
		if err != nil {
			return Breakdown{}, err
		}
		b.AdjustmentsTotal = tariff.Money(res.TotalAdjustment)
		b.AppliedRules = appliedRules(res, pricingrule.ScopeSegment, segmentID)
		taxable = taxable.Add(b.AdjustmentsTotal)
	}

	taxes := tax.Calculate(taxable, p.Origin.Country, p.Destination.Country, p.Mode)
	b.Taxes = append(b.Taxes, taxes.Items...)
	b.TaxesTotal = taxes.TotalAmount
	b.recomputeTotal()
	return b, nil
}

// contractLines prices p with every matching line of the contract. The
// rate table is not consulted.
func (e *Estimator) contractLines(ctx context.Context, segmentID, contractID string, p tariff.ShipmentParams) ([]LineCost, string, error) {
	if e.contracts == nil {
		return nil, "", errors.New("cost estimator: contract source is not configured")
	}
	c, err := e.contracts.Contract(ctx, contractID)
	if err != nil {
		return nil, "", fmt.Errorf("load contract %s: %w", contractID, err)
	}
	if !c.Active || !c.Validity.Contains(p.ShipDate) {
		return nil, "", fmt.Errorf("%w: contract %s is not in force on %s", rate.ErrNoApplicableRate, contractID, p.ShipDate.Format("2006-01-02"))
	}
	lines := make([]ContractLine, 0, len(c.Lines))
	for _, l := range c.Lines {
		if l.Matches(p) {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		e.logger.Info("no contract line matches",
			zap.String("contract_id", contractID),
			zap.String("mode", string(p.Mode)),
		)
		return nil, "", fmt.Errorf("%w: no line of contract %s matches", rate.ErrNoApplicableRate, contractID)
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })

	out := make([]LineCost, 0, len(lines))
	for _, l := range lines {
		charge, err := rate.Price(l.RateType, l.Rate, l.MinCharge, p, e.rates.Policy())
		if err != nil {
			return nil, "", fmt.Errorf("contract line %d: %w", l.ID, err)
		}
		out = append(out, LineCost{
			SegmentID:      segmentID,
			ContractID:     contractID,
			ContractLineID: l.ID,
			RateType:       l.RateType,
			Quantity:       charge.Quantity,
			UnitRate:       charge.UnitRate,
			Amount:         charge.Amount,
			MinApplied:     charge.MinApplied,
		})
	}
	return out, c.Currency, nil
}

// EstimateShipmentCost prices every leg of the shipment, sums the legs and
// applies shipment-scope rules to the taxed total.
func (e *Estimator) EstimateShipmentCost(ctx context.Context, shipmentID string, opts Options) (Breakdown, error) {
	if e.shipments == nil {
		return Breakdown{}, errors.New("cost estimator: shipment source is not configured")
	}
	s, err := e.shipments.Shipment(ctx, shipmentID)
	if err != nil {
		return Breakdown{}, fmt.Errorf("load shipment %s: %w", shipmentID, err)
	}
	return e.shipment(ctx, s, opts)
}

func (e *Estimator) shipment(ctx context.Context, s Shipment, opts Options) (Breakdown, error) {
	legs := s.Legs()
	parts := make([]Breakdown, len(legs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, leg := range legs {
		i, leg := i, leg
		g.Go(func() error {
			b, err := e.segment(gctx, leg.ID, leg.Params, opts)
			if err != nil {
				return fmt.Errorf("segment %s: %w", leg.ID, err)
			}
			parts[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Breakdown{}, err
	}

	total := emptyBreakdown(e.currency)
	if len(parts) > 0 {
		total.Currency = parts[0].Currency
	}
	for i, b := range parts {
		total = total.Add(b)
		total.Parts = append(total.Parts, Part{Kind: PartSegment, ID: legs[i].ID, Breakdown: b})
	}

	if e.rules == nil || opts.SkipPricingRules {
		return total, nil
	}
	rc := pricingrule.ContextFor(s.Params, total.Total, pricingrule.ScopeShipment)
	rc.ShipmentID = s.ID
	res, err := e.rules.Apply(ctx, rc)
	if err != nil {
		return Breakdown{}, err
	}
	adjustment := tariff.Money(res.TotalAdjustment)
	total.AdjustmentsTotal = total.AdjustmentsTotal.Add(adjustment)
	total.Total = total.Total.Add(adjustment)
	total.AppliedRules = append(total.AppliedRules, appliedRules(res, pricingrule.ScopeShipment, "")...)
	return total, nil
}

// EstimateOrderCost sums the shipment estimates of an order.
func (e *Estimator) EstimateOrderCost(ctx context.Context, orderID string, opts Options) (Breakdown, error) {
	if e.shipments == nil {
		return Breakdown{}, errors.New("cost estimator: shipment source is not configured")
	}
	o, err := e.shipments.Order(ctx, orderID)
	if err != nil {
		return Breakdown{}, fmt.Errorf("load order %s: %w", orderID, err)
	}

	parts := make([]Breakdown, len(o.ShipmentIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, id := range o.ShipmentIDs {
		i, id := i, id
		g.Go(func() error {
			b, err := e.EstimateShipmentCost(gctx, id, opts)
			if err != nil {
				return err
			}
			parts[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Breakdown{}, err
	}

	total := emptyBreakdown(e.currency)
	for i, b := range parts {
		total = total.Add(b)
		total.Parts = append(total.Parts, Part{Kind: PartShipment, ID: o.ShipmentIDs[i], Breakdown: b})
	}
	return total, nil
}

func appliedRules(res pricingrule.Result, scope pricingrule.Scope, segmentID string) []AppliedRule {
	fired := res.Fired()
	out := make([]AppliedRule, 0, len(fired))
	for _, rr := range fired {
		out = append(out, AppliedRule{
			RuleID:     rr.RuleID,
			Name:       rr.Name,
			Scope:      scope,
			SegmentID:  segmentID,
			Before:     rr.Before,
			Adjustment: rr.After.Sub(rr.Before),
			After:      rr.After,
		})
	}
	return out
}
