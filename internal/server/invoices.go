package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"freightcontrol/internal/invoicecontrol"
)

func (s *Server) handleReceiveInvoice(w http.ResponseWriter, r *http.Request) {
	if s.invoices == nil {
		unavailable(w, "invoice control")
		return
	}
	var inv invoicecontrol.Invoice
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	created, err := s.invoices.Receive(r.Context(), inv)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	if s.invoices == nil {
		unavailable(w, "invoice control")
		return
	}
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "id required")
		return
	}
	inv, err := s.invoices.Invoice(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleControlInvoice(w http.ResponseWriter, r *http.Request) {
	if s.invoices == nil {
		unavailable(w, "invoice control")
		return
	}
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "id required")
		return
	}
	out, err := s.invoices.ControlInvoice(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// TransitionRequest carries the optional note or reason of a lifecycle
// action.
type TransitionRequest struct {
	Note string `json:"note"`
}

func (s *Server) handleInvoiceTransition(w http.ResponseWriter, r *http.Request) {
	if s.invoices == nil {
		unavailable(w, "invoice control")
		return
	}
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "id required")
		return
	}
	var act func(ctx context.Context, id, note string) (invoicecontrol.Invoice, error)
	switch chi.URLParam(r, "action") {
	case "validate":
		act = s.invoices.Validate
	case "approve":
		act = s.invoices.Approve
	case "dispute":
		act = s.invoices.Dispute
	case "reject":
		act = s.invoices.Reject
	case "reopen":
		act = s.invoices.Reopen
	default:
		writeErrorJSON(w, http.StatusNotFound, "unsupported_action", "unsupported action")
		return
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	inv, err := act(r.Context(), id, strings.TrimSpace(req.Note))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		invoicecontrol.Invoice
		PaymentAllowed bool `json:"payment_allowed"`
	}{inv, invoicecontrol.PaymentAllowed(inv.Status)})
}
