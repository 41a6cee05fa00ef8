package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"freightcontrol/internal/invoicecontrol"
	"freightcontrol/internal/pricingrule"
	"freightcontrol/internal/tariff"
)

func applyRulesCommand() *cli.Command {
	return &cli.Command{
		Name:  "apply-rules",
		Usage: "Apply the pricing rules of the tariff book to an amount",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "amount", Aliases: []string{"a"}, Usage: "Amount to adjust", Required: true},
			&cli.StringFlag{Name: "scope", Usage: "Rule scope (segment, shipment); empty applies every rule"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "Transport mode"},
			&cli.StringFlag{Name: "from", Usage: "Origin country"},
			&cli.StringFlag{Name: "from-zone", Usage: "Origin zone"},
			&cli.StringFlag{Name: "to", Usage: "Destination country"},
			&cli.StringFlag{Name: "to-zone", Usage: "Destination zone"},
			&cli.StringFlag{Name: "weight", Value: "0", Usage: "Weight in kg"},
			&cli.StringFlag{Name: "volume", Value: "0", Usage: "Volume in m3"},
			&cli.StringFlag{Name: "distance", Value: "0", Usage: "Distance in km"},
			&cli.StringFlag{Name: "value", Value: "0", Usage: "Declared goods value"},
			&cli.StringFlag{Name: "date", Aliases: []string{"d"}, Usage: "Evaluation time (YYYY-MM-DD or RFC 3339), defaults to now"},
			&cli.StringFlag{Name: "partner", Usage: "Partner id"},
			&cli.StringFlag{Name: "contract", Usage: "Contract id"},
		},
		Action: runApplyRules,
	}
}

func runApplyRules(c *cli.Context) error {
	rc := pricingrule.Context{
		Mode:        tariff.TransportMode(strings.ToLower(c.String("mode"))),
		Origin:      tariff.Location{Country: c.String("from"), Zone: c.String("from-zone")},
		Destination: tariff.Location{Country: c.String("to"), Zone: c.String("to-zone")},
		PartnerID:   c.String("partner"),
		ContractID:  c.String("contract"),
		Scope:       pricingrule.Scope(strings.ToLower(c.String("scope"))),
		At:          time.Now().UTC(),
	}
	for _, f := range []struct {
		name string
		dst  *decimal.Decimal
	}{
		{"amount", &rc.Amount},
		{"weight", &rc.Weight},
		{"volume", &rc.Volume},
		{"distance", &rc.Distance},
		{"value", &rc.Value},
	} {
		d, err := decimal.NewFromString(strings.TrimSpace(c.String(f.name)))
		if err != nil {
			return fmt.Errorf("--%s: %w", f.name, err)
		}
		if d.IsNegative() {
			return fmt.Errorf("--%s must not be negative", f.name)
		}
		*f.dst = d
	}
	if raw := c.String("date"); raw != "" {
		at, err := parseDate(raw)
		if err != nil {
			return fmt.Errorf("--date: %w", err)
		}
		rc.At = at
	}

	s, err := open(c)
	if err != nil {
		return err
	}
	res, err := s.Rules.Apply(c.Context, rc)
	if err != nil {
		return fmt.Errorf("apply rules: %w", err)
	}
	return printJSON(res)
}

func controlCommand() *cli.Command {
	return &cli.Command{
		Name:  "control",
		Usage: "Control carrier invoices of the tariff book against expected costs",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "invoice", Aliases: []string{"i"}, Usage: "Invoice id to control (repeatable)"},
			&cli.BoolFlag{Name: "all", Usage: "Control every invoice of the tariff book"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "Output format (json, table)"},
			&cli.BoolFlag{Name: "fail-on-review", Usage: "Exit non-zero when an invoice needs manual review"},
		},
		Action: runControl,
	}
}

func runControl(c *cli.Context) error {
	s, err := open(c)
	if err != nil {
		return err
	}
	ids := c.StringSlice("invoice")
	if c.Bool("all") {
		ids = nil
		for _, inv := range s.doc.Invoices {
			ids = append(ids, inv.ID)
		}
	}
	if len(ids) == 0 {
		return errors.New("no invoice selected, use --invoice or --all")
	}

	outcomes := make([]invoicecontrol.Outcome, 0, len(ids))
	review := 0
	for _, id := range ids {
		out, err := s.Invoices.ControlInvoice(c.Context, id)
		if err != nil {
			return fmt.Errorf("control %s: %w", id, err)
		}
		if out.RequiresManualReview {
			review++
		}
		s.logger.Info("invoice controlled",
			zap.String("invoice_id", id),
			zap.String("validation_status", string(out.ValidationStatus)),
			zap.Int("anomalies", len(out.Anomalies)),
		)
		outcomes = append(outcomes, out)
	}

	switch strings.ToLower(c.String("format")) {
	case "json", "":
		if err := printJSON(outcomes); err != nil {
			return err
		}
	case "table":
		printOutcomeTable(outcomes)
	default:
		return fmt.Errorf("unsupported format %q", c.String("format"))
	}
	if review > 0 && c.Bool("fail-on-review") {
		return cli.Exit(fmt.Sprintf("%d invoice(s) require manual review", review), 2)
	}
	return nil
}

func printOutcomeTable(outcomes []invoicecontrol.Outcome) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "INVOICE\tSTATUS\tVALIDATION\tRISK\tEXPECTED\tACTUAL\tVARIANCE\tANOMALIES")
	for _, o := range outcomes {
		pct := "n/a"
		if o.VariancePercentage.Valid {
			pct = o.VariancePercentage.Decimal.StringFixed(2) + "%"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s (%s)\t%d\n", o.InvoiceID, o.Status, o.ValidationStatus, o.RiskLevel,
			o.ExpectedTotal.StringFixed(2), o.ActualTotal.StringFixed(2), o.Variance.StringFixed(2), pct, len(o.Anomalies))
	}
	for _, o := range outcomes {
		for _, a := range o.Anomalies {
			fmt.Fprintf(w, "  %s\t%s\t%s\t\t\t\t\t%s\n", o.InvoiceID, a.Type, a.Severity, a.Description)
		}
	}
}
