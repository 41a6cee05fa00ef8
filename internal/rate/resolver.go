package rate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"freightcontrol/internal/tariff"
)

// ErrNoApplicableRate is returned when no rate survives the filters.
var ErrNoApplicableRate = errors.New("no applicable rate")

// Source supplies candidate rates. Implementations may pre-filter on
// mode; the resolver re-applies every predicate regardless.
type Source interface {
	ActiveRates(ctx context.Context, mode tariff.TransportMode) ([]Rate, error)
}

type predicate func(Rate, tariff.ShipmentParams) bool

// predicates is evaluated in a single pass per candidate.
var predicates = []predicate{
	func(r Rate, _ tariff.ShipmentParams) bool { return r.Active },
	func(r Rate, p tariff.ShipmentParams) bool { return r.Validity.Contains(p.ShipDate) },
	func(r Rate, p tariff.ShipmentParams) bool { return r.Origin.Matches(p.Origin) },
	func(r Rate, p tariff.ShipmentParams) bool { return r.Destination.Matches(p.Destination) },
	func(r Rate, p tariff.ShipmentParams) bool { return tariff.ModeMatches(r.Mode, p.Mode) },
	func(r Rate, p tariff.ShipmentParams) bool { return r.Weight.Contains(p.Weight) },
	func(r Rate, p tariff.ShipmentParams) bool { return r.Volume.Contains(p.Volume) },
	func(r Rate, p tariff.ShipmentParams) bool { return r.Distance.Contains(p.Distance) },
	func(r Rate, p tariff.ShipmentParams) bool { return tariff.ScopeMatches(r.PartnerID, p.PartnerID) },
	func(r Rate, p tariff.ShipmentParams) bool { return tariff.ScopeMatches(r.ContractID, p.ContractID) },
}

// Applicable filters rates against p and orders the survivors by priority
// descending, ties broken by lowest id. The input slice is not modified.
func Applicable(rates []Rate, p tariff.ShipmentParams) []Rate {
	out := make([]Rate, 0, len(rates))
next:
	for _, r := range rates {
		for _, keep := range predicates {
			if !keep(r, p) {
				continue next
			}
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Resolver selects contractual rates for shipments.
type Resolver struct {
	source Source
	policy UnknownTypePolicy
	logger *zap.Logger
}

// NewResolver builds a resolver over source.
func NewResolver(source Source, policy UnknownTypePolicy, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{source: source, policy: policy, logger: logger}
}

// Policy returns the unknown rate type policy in force.
func (r *Resolver) Policy() UnknownTypePolicy { return r.policy }

// Resolve returns every applicable rate, best first. An empty result is
// not an error.
func (r *Resolver) Resolve(ctx context.Context, p tariff.ShipmentParams) ([]Rate, error) {
	rates, err := r.source.ActiveRates(ctx, p.Mode)
	if err != nil {
		return nil, fmt.Errorf("load rates: %w", err)
	}
	return Applicable(rates, p), nil
}

// Best returns the single rate to use, or ErrNoApplicableRate.
func (r *Resolver) Best(ctx context.Context, p tariff.ShipmentParams) (Rate, error) {
	rates, err := r.Resolve(ctx, p)
	if err != nil {
		return Rate{}, err
	}
	if len(rates) == 0 {
		r.logger.Info("no applicable rate",
			zap.String("mode", string(p.Mode)),
			zap.String("origin", p.Origin.Country),
			zap.String("destination", p.Destination.Country),
			zap.String("weight", p.Weight.String()),
		)
		return Rate{}, fmt.Errorf("%w: %s %s->%s", ErrNoApplicableRate, p.Mode, p.Origin.Country, p.Destination.Country)
	}
	best := rates[0]
	if !best.Type.Known() {
		r.logger.Warn("unknown rate type", zap.Int64("rate_id", best.ID), zap.String("rate_type", string(best.Type)), zap.Stringer("policy", r.policy))
	}
	return best, nil
}
