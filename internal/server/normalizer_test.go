package server

import (
	"errors"
	"testing"
	"time"

	"freightcontrol/internal/invoicecontrol"
)

func TestDefaultNormalizer_NestedPayload(t *testing.T) {
	n, ok := NewNormalizer("generic")
	if !ok {
		t.Fatalf("generic source should be supported")
	}
	body := []byte(`{
		"invoice": {"number": "INV-77", "currency": "eur", "date": "2024-05-20"},
		"carrier": {"id": "geodis"},
		"items": [
			{"type": "Transport", "shipment": {"id": "S-1"}, "rate_id": 3, "qty": 2, "price": "50", "total": 100},
			{"kind": "surcharge", "label": "Fuel", "surcharge_id": "9", "amount": 12.5}
		]
	}`)
	inv, err := n.Normalize("generic", body)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if inv.Number != "INV-77" || inv.CarrierID != "geodis" || inv.Currency != "EUR" {
		t.Fatalf("unexpected header: %+v", inv)
	}
	if !inv.InvoiceDate.Equal(time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date: %s", inv.InvoiceDate)
	}
	if len(inv.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(inv.Lines))
	}
	l := inv.Lines[0]
	if l.Type != invoicecontrol.LineTransport || l.ShipmentID != "S-1" || l.RateID != 3 || l.Number != 1 {
		t.Fatalf("unexpected first line: %+v", l)
	}
	if !l.Quantity.Equal(dec("2")) || !l.UnitPrice.Valid || !l.UnitPrice.Decimal.Equal(dec("50")) || !l.Amount.Equal(dec("100")) {
		t.Fatalf("unexpected first line amounts: %+v", l)
	}
	l = inv.Lines[1]
	if l.Type != invoicecontrol.LineSurcharge || l.SurchargeID != 9 || l.Description != "Fuel" {
		t.Fatalf("unexpected second line: %+v", l)
	}
	if !l.Quantity.Equal(dec("1")) || !l.Amount.Equal(dec("12.5")) {
		t.Fatalf("unexpected second line amounts: %+v", l)
	}
}

func TestDefaultNormalizer_CarrierDefaultsToSource(t *testing.T) {
	n := &DefaultNormalizer{}
	inv, err := n.Normalize("dummy", []byte(`{"invoice_number": "X-1", "lines": []}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if inv.CarrierID != "dummy" {
		t.Fatalf("expected carrier from source, got %q", inv.CarrierID)
	}
}

func TestDefaultNormalizer_UnitPricePresence(t *testing.T) {
	n := &DefaultNormalizer{}
	inv, err := n.Normalize("dummy", []byte(`{"number": "A", "lines": [
		{"type": "transport", "amount": 100, "quantity": 1, "unit_price": 0},
		{"type": "transport", "amount": 100, "quantity": 1}
	]}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(inv.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(inv.Lines))
	}
	if !inv.Lines[0].UnitPrice.Valid || !inv.Lines[0].UnitPrice.Decimal.IsZero() {
		t.Fatalf("explicit zero unit price lost: %+v", inv.Lines[0].UnitPrice)
	}
	if inv.Lines[1].UnitPrice.Valid {
		t.Fatalf("absent unit price should stay null, got %s", inv.Lines[1].UnitPrice.Decimal)
	}
}

func TestDefaultNormalizer_Errors(t *testing.T) {
	n := &DefaultNormalizer{}
	if _, err := n.Normalize("dummy", []byte(`{"lines": []}`)); !errors.Is(err, ErrMissingNumber) {
		t.Fatalf("expected ErrMissingNumber, got %v", err)
	}
	if _, err := n.Normalize("dummy", []byte(`{`)); err == nil {
		t.Fatalf("expected json error")
	}
	if _, err := n.Normalize("dummy", []byte(`{"number": "A", "lines": [{"amount": "abc"}]}`)); err == nil {
		t.Fatalf("expected amount error")
	}
	if _, err := n.Normalize("dummy", []byte(`{"number": "A", "date": "20/05/2024"}`)); err == nil {
		t.Fatalf("expected date error")
	}
	if _, ok := NewNormalizer("unknown"); ok {
		t.Fatalf("unknown source should not be supported")
	}
}
