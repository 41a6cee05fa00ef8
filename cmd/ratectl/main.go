// ratectl prices shipments and controls carrier invoices against a YAML
// tariff book, without a database.
//
// Usage:
//
//	ratectl --tariff book.yaml estimate-segment --mode road --from FR --to FR --distance 420 --date 2024-03-05
//	ratectl --tariff book.yaml estimate-shipment --id SHP-1 --format table
//	ratectl --tariff book.yaml estimate-order --id ORD-1
//	ratectl --tariff book.yaml apply-rules --amount 1200 --scope shipment
//	ratectl --tariff book.yaml control --invoice INV-1
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"freightcontrol/internal/app"
	"freightcontrol/internal/config"
	"freightcontrol/internal/logging"
	"freightcontrol/internal/store/fixtures"
	"freightcontrol/internal/store/memory"
)

var version = "dev"

func main() {
	cliApp := &cli.App{
		Name:    "ratectl",
		Usage:   "Freight cost estimation and carrier invoice control",
		Version: version,

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "tariff",
				Aliases:  []string{"t"},
				Usage:    "Path to the YAML tariff book",
				EnvVars:  []string{"TARIFF_FILE"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "unknown-rate-type",
				Value:   "flat",
				Usage:   "Handling of unknown rate types (flat, reject)",
				EnvVars: []string{"UNKNOWN_RATE_TYPE"},
			},
			&cli.StringFlag{
				Name:    "currency",
				Usage:   "Currency of estimates (defaults to the tariff book currency, then EUR)",
				EnvVars: []string{"CURRENCY"},
			},
			&cli.IntFlag{
				Name:    "workers",
				Value:   4,
				Usage:   "Parallel segment and invoice line workers",
				EnvVars: []string{"ESTIMATE_WORKERS"},
			},
		},

		Commands: []*cli.Command{
			estimateSegmentCommand(),
			estimateShipmentCommand(),
			estimateOrderCommand(),
			applyRulesCommand(),
			controlCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// session is the tariff book loaded into a memory store plus the engines
// wired over it.
type session struct {
	*app.Services
	store  *memory.Store
	doc    *fixtures.Document
	logger *zap.Logger
}

func open(c *cli.Context) (*session, error) {
	logger, err := logging.NewStderrLogger(c.String("log-level"))
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	ms, doc, err := fixtures.LoadFile(c.Context, c.String("tariff"))
	if err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(c.String("currency")))
	if currency == "" {
		currency = doc.Currency
	}
	cfg := config.Config{
		UnknownRateType: c.String("unknown-rate-type"),
		EstimateWorkers: c.Int("workers"),
		Currency:        currency,
	}
	svc, err := app.Wire(ms, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &session{Services: svc, store: ms, doc: doc, logger: logger}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
