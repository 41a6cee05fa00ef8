// Package app wires the pricing, costing and invoice control engines over a
// storage backend. Both binaries build their services through it.
package app

import (
	"fmt"

	"go.uber.org/zap"

	"freightcontrol/internal/config"
	"freightcontrol/internal/costing"
	"freightcontrol/internal/invoicecontrol"
	"freightcontrol/internal/pricingrule"
	"freightcontrol/internal/rate"
	"freightcontrol/internal/surcharge"
)

// Backend is everything the engines read from and write to. The memory
// and postgres stores both implement it.
type Backend interface {
	rate.Source
	surcharge.Source
	surcharge.FuelIndex
	pricingrule.Source
	pricingrule.UsageRecorder
	costing.ContractSource
	costing.ShipmentSource
	invoicecontrol.Store
}

type Services struct {
	Rules     *pricingrule.Engine
	Estimator *costing.Estimator
	Invoices  *invoicecontrol.Engine
}

// Wire builds the engines. cfg supplies the unknown rate type policy, the
// worker count and the currency.
func Wire(b Backend, cfg config.Config, logger *zap.Logger) (*Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rules, err := pricingrule.NewEngine(pricingrule.Deps{
		Source:   b,
		Recorder: b,
		Logger:   logger.Named("pricingrule"),
	})
	if err != nil {
		return nil, fmt.Errorf("pricing rules: %w", err)
	}
	est, err := costing.NewEstimator(costing.Deps{
		Rates:      rate.NewResolver(b, rate.PolicyByName(cfg.UnknownRateType), logger.Named("rate")),
		Surcharges: surcharge.NewCalculator(b, b, logger.Named("surcharge")),
		Rules:      rules,
		Contracts:  b,
		Shipments:  b,
		Workers:    cfg.EstimateWorkers,
		Currency:   cfg.Currency,
		Logger:     logger.Named("costing"),
	})
	if err != nil {
		return nil, fmt.Errorf("estimator: %w", err)
	}
	invoices, err := invoicecontrol.NewEngine(invoicecontrol.Deps{
		Store:     b,
		Estimator: est,
		Workers:   cfg.EstimateWorkers,
		Logger:    logger.Named("invoicecontrol"),
	})
	if err != nil {
		return nil, fmt.Errorf("invoice control: %w", err)
	}
	return &Services{Rules: rules, Estimator: est, Invoices: invoices}, nil
}
