package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"freightcontrol/internal/invoicecontrol"
)

// Normalizer maps carrier-specific invoice payloads into an Invoice ready
// to be received.
type Normalizer interface {
	Normalize(source string, body []byte) (invoicecontrol.Invoice, error)
}

// ErrMissingNumber is returned when a payload carries no invoice number.
var ErrMissingNumber = errors.New("missing invoice number")

// NewNormalizer selects a normalizer for the given source. ok is false for
// sources the service does not accept invoices from.
func NewNormalizer(source string) (n Normalizer, ok bool) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "generic", "dummy":
		return &DefaultNormalizer{}, true
	default:
		return nil, false
	}
}

// DefaultNormalizer attempts to extract common fields from diverse payloads.
type DefaultNormalizer struct{}

func (n *DefaultNormalizer) Normalize(source string, body []byte) (invoicecontrol.Invoice, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return invoicecontrol.Invoice{}, err
	}

	number := strings.TrimSpace(getString(payload, []string{"invoice_number", "number", "invoice.number", "reference"}))
	if number == "" {
		return invoicecontrol.Invoice{}, ErrMissingNumber
	}
	inv := invoicecontrol.Invoice{
		Number:     number,
		CarrierID:  orDefault(getString(payload, []string{"carrier_id", "carrier.id", "carrier"}), source),
		ContractID: getString(payload, []string{"contract_id", "contract.id"}),
		Currency:   strings.ToUpper(getString(payload, []string{"currency", "invoice.currency"})),
	}
	if raw := getString(payload, []string{"invoice_date", "date", "issued_at", "invoice.date"}); raw != "" {
		at, err := parseDay(raw)
		if err != nil {
			return invoicecontrol.Invoice{}, fmt.Errorf("invoice_date: %w", err)
		}
		inv.InvoiceDate = at
	}

	items, _ := getAny(payload, []string{"lines", "items", "invoice.lines"}).([]any)
	for i, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			return invoicecontrol.Invoice{}, fmt.Errorf("lines[%d]: not an object", i)
		}
		l, err := normalizeLine(m)
		if err != nil {
			return invoicecontrol.Invoice{}, fmt.Errorf("lines[%d]: %w", i, err)
		}
		l.Number = i + 1
		inv.Lines = append(inv.Lines, l)
	}
	if total, ok, err := getDecimal(payload, []string{"total_amount", "total", "invoice.total"}); err != nil {
		return invoicecontrol.Invoice{}, fmt.Errorf("total_amount: %w", err)
	} else if ok {
		inv.TotalAmount = total
	}
	return inv, nil
}

func normalizeLine(m map[string]any) (invoicecontrol.Line, error) {
	l := invoicecontrol.Line{
		Type:        invoicecontrol.LineType(strings.ToLower(getString(m, []string{"line_type", "type", "kind"}))),
		Description: getString(m, []string{"description", "label", "name"}),
		ShipmentID:  getString(m, []string{"shipment_id", "shipment", "shipment.id"}),
		SegmentID:   getString(m, []string{"segment_id", "segment", "leg_id"}),
		Quantity:    decimal.NewFromInt(1),
	}
	for _, f := range []struct {
		keys []string
		dst  *int64
	}{
		{[]string{"rate_id", "rate.id"}, &l.RateID},
		{[]string{"contract_line_id", "contract_line.id"}, &l.ContractLineID},
		{[]string{"surcharge_id", "surcharge.id"}, &l.SurchargeID},
	} {
		v, err := getInt64(m, f.keys)
		if err != nil {
			return invoicecontrol.Line{}, fmt.Errorf("%s: %w", f.keys[0], err)
		}
		*f.dst = v
	}
	for _, f := range []struct {
		keys []string
		dst  *decimal.Decimal
	}{
		{[]string{"quantity", "qty"}, &l.Quantity},
		{[]string{"amount", "total"}, &l.Amount},
	} {
		v, ok, err := getDecimal(m, f.keys)
		if err != nil {
			return invoicecontrol.Line{}, fmt.Errorf("%s: %w", f.keys[0], err)
		}
		if ok {
			*f.dst = v
		}
	}
	// An explicit zero price is kept so control can flag it.
	price, ok, err := getDecimal(m, []string{"unit_price", "price"})
	if err != nil {
		return invoicecontrol.Line{}, fmt.Errorf("unit_price: %w", err)
	}
	if ok {
		l.UnitPrice = decimal.NewNullDecimal(price)
	}
	return l, nil
}

func parseDay(s string) (time.Time, error) {
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

// getString returns the first non-empty string from the candidate keys.
// Supports dot-path navigation for nested maps. Numbers are accepted and
// rendered as text so numeric references survive.
func getString(m map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := getPath(m, k).(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// getDecimal returns the first number, or numeric string, found under the
// candidate keys.
func getDecimal(m map[string]any, keys []string) (decimal.Decimal, bool, error) {
	for _, k := range keys {
		switch v := getPath(m, k).(type) {
		case json.Number:
			d, err := decimal.NewFromString(v.String())
			return d, err == nil, err
		case string:
			if strings.TrimSpace(v) == "" {
				continue
			}
			d, err := decimal.NewFromString(strings.TrimSpace(v))
			return d, err == nil, err
		}
	}
	return decimal.Zero, false, nil
}

func getInt64(m map[string]any, keys []string) (int64, error) {
	s := getString(m, keys)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// getAny returns the first non-nil value from the candidate keys.
func getAny(m map[string]any, keys []string) any {
	for _, k := range keys {
		if v := getPath(m, k); v != nil {
			return v
		}
	}
	return nil
}

// getPath navigates a dot-separated key into nested maps.
func getPath(m map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, p := range parts {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := mm[p]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}
