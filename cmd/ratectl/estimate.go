package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"freightcontrol/internal/costing"
	"freightcontrol/internal/tariff"
)

func optionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "contract", Usage: "Price against this contract's lines"},
		&cli.BoolFlag{Name: "optional", Usage: "Apply every optional surcharge"},
		&cli.StringSliceFlag{Name: "surcharge", Usage: "Optional surcharge code to apply (repeatable)"},
		&cli.BoolFlag{Name: "skip-rules", Usage: "Do not apply pricing rules"},
		&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "Output format (json, table)"},
	}
}

func optionsFrom(c *cli.Context) costing.Options {
	return costing.Options{
		ContractID:                strings.TrimSpace(c.String("contract")),
		IncludeOptionalSurcharges: c.Bool("optional"),
		Surcharges:                c.StringSlice("surcharge"),
		SkipPricingRules:          c.Bool("skip-rules"),
	}
}

func estimateSegmentCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "Transport mode (road, rail, sea, air, multimodal)", Required: true},
		&cli.StringFlag{Name: "from", Usage: "Origin country"},
		&cli.StringFlag{Name: "from-zone", Usage: "Origin zone"},
		&cli.StringFlag{Name: "to", Usage: "Destination country"},
		&cli.StringFlag{Name: "to-zone", Usage: "Destination zone"},
		&cli.StringFlag{Name: "weight", Value: "0", Usage: "Weight in kg"},
		&cli.StringFlag{Name: "volume", Value: "0", Usage: "Volume in m3"},
		&cli.StringFlag{Name: "distance", Value: "0", Usage: "Distance in km"},
		&cli.StringFlag{Name: "hours", Value: "0", Usage: "Duration in hours"},
		&cli.IntFlag{Name: "pallets", Usage: "Pallet count"},
		&cli.IntFlag{Name: "containers", Usage: "Container count"},
		&cli.StringFlag{Name: "value", Value: "0", Usage: "Declared goods value"},
		&cli.StringFlag{Name: "date", Aliases: []string{"d"}, Usage: "Ship date (YYYY-MM-DD or RFC 3339)", Required: true},
		&cli.StringFlag{Name: "partner", Usage: "Partner id"},
	}
	return &cli.Command{
		Name:   "estimate-segment",
		Usage:  "Estimate the cost of a single segment",
		Flags:  append(flags, optionFlags()...),
		Action: runEstimateSegment,
	}
}

func runEstimateSegment(c *cli.Context) error {
	p, err := paramsFrom(c)
	if err != nil {
		return err
	}
	s, err := open(c)
	if err != nil {
		return err
	}
	b, err := s.Estimator.EstimateSegmentCost(c.Context, p, optionsFrom(c))
	if err != nil {
		return fmt.Errorf("estimate segment: %w", err)
	}
	return printBreakdown(c.String("format"), b)
}

func paramsFrom(c *cli.Context) (tariff.ShipmentParams, error) {
	p := tariff.ShipmentParams{
		Mode:        tariff.TransportMode(strings.ToLower(c.String("mode"))),
		Origin:      tariff.Location{Country: c.String("from"), Zone: c.String("from-zone")},
		Destination: tariff.Location{Country: c.String("to"), Zone: c.String("to-zone")},
		Pallets:     c.Int("pallets"),
		Containers:  c.Int("containers"),
		PartnerID:   c.String("partner"),
		ContractID:  c.String("contract"),
	}
	for _, f := range []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"weight", &p.Weight},
		{"volume", &p.Volume},
		{"distance", &p.Distance},
		{"hours", &p.Hours},
		{"value", &p.DeclaredValue},
	} {
		d, err := decimal.NewFromString(strings.TrimSpace(c.String(f.name)))
		if err != nil {
			return tariff.ShipmentParams{}, fmt.Errorf("--%s: %w", f.name, err)
		}
		if d.IsNegative() {
			return tariff.ShipmentParams{}, fmt.Errorf("--%s must not be negative", f.name)
		}
		*f.dst = d
	}
	at, err := parseDate(c.String("date"))
	if err != nil {
		return tariff.ShipmentParams{}, fmt.Errorf("--date: %w", err)
	}
	p.ShipDate = at
	return p, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}

func estimateShipmentCommand() *cli.Command {
	return &cli.Command{
		Name:  "estimate-shipment",
		Usage: "Estimate the cost of a stored shipment across its segments",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "Shipment id", Required: true},
		}, optionFlags()...),
		Action: func(c *cli.Context) error {
			s, err := open(c)
			if err != nil {
				return err
			}
			b, err := s.Estimator.EstimateShipmentCost(c.Context, c.String("id"), optionsFrom(c))
			if err != nil {
				return fmt.Errorf("estimate shipment %s: %w", c.String("id"), err)
			}
			return printBreakdown(c.String("format"), b)
		},
	}
}

func estimateOrderCommand() *cli.Command {
	return &cli.Command{
		Name:  "estimate-order",
		Usage: "Estimate the cost of every shipment of an order",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "Order id", Required: true},
		}, optionFlags()...),
		Action: func(c *cli.Context) error {
			s, err := open(c)
			if err != nil {
				return err
			}
			b, err := s.Estimator.EstimateOrderCost(c.Context, c.String("id"), optionsFrom(c))
			if err != nil {
				return fmt.Errorf("estimate order %s: %w", c.String("id"), err)
			}
			return printBreakdown(c.String("format"), b)
		},
	}
}

func printBreakdown(format string, b costing.Breakdown) error {
	switch strings.ToLower(format) {
	case "json", "":
		return printJSON(b)
	case "table":
		printBreakdownTable(b)
		return nil
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

func printBreakdownTable(b costing.Breakdown) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "LINE\tSEGMENT\tTYPE\tQUANTITY\tUNIT\tAMOUNT")
	for _, l := range b.Lines {
		ref := l.RateCode
		if l.ContractLineID != 0 {
			ref = fmt.Sprintf("%s#%d", l.ContractID, l.ContractLineID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", ref, l.SegmentID, l.RateType,
			l.Quantity.String(), l.UnitRate.String(), l.Amount.StringFixed(2))
	}
	for _, sc := range b.Surcharges {
		fmt.Fprintf(w, "%s\t\t%s\t\t\t%s\n", sc.Code, sc.Method, sc.Amount.StringFixed(2))
	}
	for _, r := range b.AppliedRules {
		fmt.Fprintf(w, "rule %d\t%s\t%s\t\t\t%s\n", r.RuleID, r.SegmentID, r.Scope, r.Adjustment.StringFixed(2))
	}
	for _, t := range b.Taxes {
		fmt.Fprintf(w, "%s\t\t%s\t\t%s%%\t%s\n", t.Type, t.Country, t.Rate.String(), t.Amount.StringFixed(2))
	}
	fmt.Fprintln(w, "\t\t\t\t\t")
	fmt.Fprintf(w, "TRANSPORT\t\t\t\t\t%s\n", b.TransportCost.StringFixed(2))
	fmt.Fprintf(w, "SURCHARGES\t\t\t\t\t%s\n", b.SurchargesTotal.StringFixed(2))
	fmt.Fprintf(w, "ADJUSTMENTS\t\t\t\t\t%s\n", b.AdjustmentsTotal.StringFixed(2))
	fmt.Fprintf(w, "TAXES\t\t\t\t\t%s\n", b.TaxesTotal.StringFixed(2))
	fmt.Fprintf(w, "TOTAL %s\t\t\t\t\t%s\n", b.Currency, b.Total.StringFixed(2))
}
