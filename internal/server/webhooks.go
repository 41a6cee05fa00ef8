package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"freightcontrol/internal/logging"
)

// maxWebhookBody bounds the payload read before the signature is checked.
const maxWebhookBody = 1 << 20

// WebhookResponse acknowledges an ingested carrier invoice.
type WebhookResponse struct {
	InvoiceID string `json:"invoice_id"`
	Number    string `json:"invoice_number"`
	Status    string `json:"status"`
}

// handleWebhook ingests carrier invoices pushed by a source. The body must
// be signed with HMAC-SHA256 using the source secret.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	if strings.TrimSpace(source) == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "source required")
		return
	}
	normalizer, ok := NewNormalizer(source)
	if !ok {
		writeErrorJSON(w, http.StatusNotFound, "unsupported_source", "unsupported source")
		return
	}
	if !s.limiter.allow(source) {
		w.Header().Set("Retry-After", "1")
		writeErrorJSON(w, http.StatusTooManyRequests, "rate_limited", "too many deliveries from source")
		return
	}
	secret := s.secret(source)
	if strings.TrimSpace(secret) == "" {
		writeErrorJSON(w, http.StatusUnauthorized, "secret_not_configured", "webhook secret not configured")
		return
	}

	// Read raw body for signature verification
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "read_error", "read error")
		return
	}
	sigHeader := strings.TrimSpace(r.Header.Get("X-Signature"))
	sigHeader = strings.TrimPrefix(sigHeader, "sha256=")
	if sigHeader == "" {
		writeErrorJSON(w, http.StatusUnauthorized, "missing_signature", "missing signature")
		return
	}
	provided, err := hex.DecodeString(sigHeader)
	if err != nil {
		writeErrorJSON(w, http.StatusUnauthorized, "invalid_signature_format", "invalid signature format")
		return
	}
	if !validSignature(secret, body, provided) {
		writeErrorJSON(w, http.StatusUnauthorized, "signature_mismatch", "signature mismatch")
		return
	}

	if s.invoices == nil {
		unavailable(w, "invoice control")
		return
	}
	inv, err := normalizer.Normalize(source, body)
	if err != nil {
		if errors.Is(err, ErrMissingNumber) {
			writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "invoice number required")
		} else {
			writeErrorJSON(w, http.StatusBadRequest, "invalid_payload", err.Error())
		}
		return
	}
	created, err := s.invoices.Receive(r.Context(), inv)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("carrier invoice ingested",
		zap.String("source", source),
		zap.String("invoice_id", created.ID),
		zap.String("invoice_number", created.Number),
	)
	writeJSON(w, http.StatusAccepted, WebhookResponse{InvoiceID: created.ID, Number: created.Number, Status: string(created.Status)})
}

func sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

func validSignature(secret string, body, provided []byte) bool {
	return hmac.Equal(sign(secret, body), provided)
}
