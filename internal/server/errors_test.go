package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// helper to parse standardized error
type stdError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected %d, got %d; body=%s", status, rr.Code, rr.Body.String())
	}
	var e stdError
	if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if e.Error.Code != code {
		t.Fatalf("unexpected error code: %s", e.Error.Code)
	}
}

func TestWebhook_UnsupportedSource_ErrorJSON(t *testing.T) {
	h := New(Deps{})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/unknown", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assertErrorCode(t, rr, http.StatusNotFound, "unsupported_source")
}

func TestWebhook_SecretNotConfigured_ErrorJSON(t *testing.T) {
	t.Setenv("DUMMY_WEBHOOK_SECRET", "")
	h := New(Deps{})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/dummy", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assertErrorCode(t, rr, http.StatusUnauthorized, "secret_not_configured")
}

func TestWebhook_InvalidSignatureFormat_ErrorJSON(t *testing.T) {
	t.Setenv("DUMMY_WEBHOOK_SECRET", "dummysecret")
	h := New(Deps{})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/dummy", nil)
	req.Header.Set("X-Signature", "ZZZ") // invalid hex
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assertErrorCode(t, rr, http.StatusUnauthorized, "invalid_signature_format")
}

func TestEstimateSegment_NoApplicableRate_ErrorJSON(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := do(h, http.MethodPost, "/estimates/segments", map[string]any{
		"shipment": map[string]any{
			"transport_mode": "sea",
			"origin":         map[string]any{"country": "FR"},
			"destination":    map[string]any{"country": "US"},
			"weight":         800,
			"ship_date":      shipDate.Format("2006-01-02T15:04:05Z07:00"),
		},
	})
	assertErrorCode(t, rr, http.StatusUnprocessableEntity, "no_applicable_rate")
}

func TestEstimateSegment_InvalidJSON_ErrorJSON(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := do(h, http.MethodPost, "/estimates/segments", "{")
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_json")
}

func TestEstimateShipment_NotFound_ErrorJSON(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := do(h, http.MethodGet, "/shipments/S-404/estimate", nil)
	assertErrorCode(t, rr, http.StatusNotFound, "resource_not_found")

	rr = do(h, http.MethodGet, "/shipments/S-1/estimate?include_optional=maybe", nil)
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")
}

func TestReceiveInvoice_Validation_ErrorJSON(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := do(h, http.MethodPost, "/invoices", map[string]any{
		"invoice_number": "F-2",
		"carrier_id":     "carrier-1",
		"invoice_date":   shipDate.Format("2006-01-02T15:04:05Z07:00"),
		"lines":          []map[string]any{{"line_type": "transport", "amount": "-4"}},
	})
	assertErrorCode(t, rr, http.StatusBadRequest, "validation_error")
}

func TestInvoiceTransition_Errors(t *testing.T) {
	h, _ := newTestHandler(t)
	rr := do(h, http.MethodPost, "/invoices/missing/dispute", nil)
	assertErrorCode(t, rr, http.StatusNotFound, "resource_not_found")

	rr = do(h, http.MethodPost, "/invoices/missing/archive", nil)
	assertErrorCode(t, rr, http.StatusNotFound, "unsupported_action")

	rr = do(New(Deps{}), http.MethodPost, "/invoices/x/control", nil)
	assertErrorCode(t, rr, http.StatusServiceUnavailable, "unavailable")
}
