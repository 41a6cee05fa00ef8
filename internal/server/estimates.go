package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"freightcontrol/internal/costing"
	"freightcontrol/internal/pricingrule"
	"freightcontrol/internal/tariff"
)

// SegmentEstimateRequest prices one leg outside any stored shipment.
type SegmentEstimateRequest struct {
	Shipment tariff.ShipmentParams `json:"shipment"`
	costing.Options
}

func (s *Server) handleEstimateSegment(w http.ResponseWriter, r *http.Request) {
	if s.est == nil {
		unavailable(w, "estimator")
		return
	}
	var req SegmentEstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	if req.Shipment.Mode == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "shipment.transport_mode required")
		return
	}
	if req.Shipment.ShipDate.IsZero() {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "shipment.ship_date required")
		return
	}
	b, err := s.est.EstimateSegmentCost(r.Context(), req.Shipment, req.Options)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// optionsFromQuery reads estimate options from the query string:
// contract_id, include_optional, surcharges (comma separated), skip_rules.
func optionsFromQuery(r *http.Request) (costing.Options, error) {
	q := r.URL.Query()
	opts := costing.Options{ContractID: strings.TrimSpace(q.Get("contract_id"))}
	for _, f := range []struct {
		key string
		dst *bool
	}{
		{"include_optional", &opts.IncludeOptionalSurcharges},
		{"skip_rules", &opts.SkipPricingRules},
	} {
		if v := q.Get(f.key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return costing.Options{}, err
			}
			*f.dst = b
		}
	}
	for _, code := range strings.Split(q.Get("surcharges"), ",") {
		if code = strings.TrimSpace(code); code != "" {
			opts.Surcharges = append(opts.Surcharges, code)
		}
	}
	return opts, nil
}

func (s *Server) handleEstimateShipment(w http.ResponseWriter, r *http.Request) {
	s.estimateByID(w, r, s.estShipment)
}

func (s *Server) handleEstimateOrder(w http.ResponseWriter, r *http.Request) {
	s.estimateByID(w, r, s.estOrder)
}

type estimateFunc func(r *http.Request, id string, opts costing.Options) (costing.Breakdown, error)

func (s *Server) estShipment(r *http.Request, id string, opts costing.Options) (costing.Breakdown, error) {
	return s.est.EstimateShipmentCost(r.Context(), id, opts)
}

func (s *Server) estOrder(r *http.Request, id string, opts costing.Options) (costing.Breakdown, error) {
	return s.est.EstimateOrderCost(r.Context(), id, opts)
}

func (s *Server) estimateByID(w http.ResponseWriter, r *http.Request, fn estimateFunc) {
	if s.est == nil {
		unavailable(w, "estimator")
		return
	}
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "id required")
		return
	}
	opts, err := optionsFromQuery(r)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "invalid boolean query parameter")
		return
	}
	b, err := fn(r, id, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleApplyPricingRules(w http.ResponseWriter, r *http.Request) {
	if s.rules == nil {
		unavailable(w, "pricing rules")
		return
	}
	var c pricingrule.Context
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	if c.Amount.IsNegative() {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "amount must not be negative")
		return
	}
	res, err := s.rules.Apply(r.Context(), c)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
