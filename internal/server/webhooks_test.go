package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func signedRequest(t *testing.T, path, secret string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", "sha256="+hex.EncodeToString(sign(secret, body)))
	return req
}

func TestWebhook_IngestsInvoice(t *testing.T) {
	secret := "testsecret"
	t.Setenv("DUMMY_WEBHOOK_SECRET", secret)
	h, ms := newTestHandler(t)

	payload := map[string]any{
		"invoice_number": "WH-1",
		"carrier_id":     "carrier-1",
		"invoice_date":   "2024-05-20",
		"lines": []map[string]any{
			{"type": "transport", "shipment_id": "S-1", "quantity": 1, "amount": 100},
			{"type": "surcharge", "shipment_id": "S-1", "surcharge_id": 1, "amount": 15},
		},
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, signedRequest(t, "/webhooks/dummy", secret, payload))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d; body=%s", rr.Code, rr.Body.String())
	}
	var res WebhookResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if res.InvoiceID == "" || res.Status != "received" || res.Number != "WH-1" {
		t.Fatalf("unexpected response: %+v", res)
	}
	inv, err := ms.Invoice(context.Background(), res.InvoiceID)
	if err != nil {
		t.Fatalf("stored invoice: %v", err)
	}
	if len(inv.Lines) != 2 || inv.Lines[1].SurchargeID != 1 {
		t.Fatalf("unexpected stored lines: %+v", inv.Lines)
	}

	// Same carrier invoice number again.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, signedRequest(t, "/webhooks/dummy", secret, payload))
	assertErrorCode(t, rr, http.StatusConflict, "conflict")
}

func TestWebhook_SignatureMismatch(t *testing.T) {
	t.Setenv("DUMMY_WEBHOOK_SECRET", "right")
	h, _ := newTestHandler(t)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, signedRequest(t, "/webhooks/dummy", "wrong", map[string]any{"invoice_number": "WH-2"}))
	assertErrorCode(t, rr, http.StatusUnauthorized, "signature_mismatch")
}

func TestWebhook_MissingNumber(t *testing.T) {
	t.Setenv("DUMMY_WEBHOOK_SECRET", "s")
	h, _ := newTestHandler(t)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, signedRequest(t, "/webhooks/dummy", "s", map[string]any{"lines": []any{}}))
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")
}
