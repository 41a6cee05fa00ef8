package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"freightcontrol/internal/config"
	"freightcontrol/internal/costing"
	"freightcontrol/internal/invoicecontrol"
	"freightcontrol/internal/logging"
	"freightcontrol/internal/pricingrule"
	"freightcontrol/internal/rate"
	"freightcontrol/internal/store"
	"freightcontrol/internal/tariff"
)

// Estimator prices segments, shipments and orders.
type Estimator interface {
	EstimateSegmentCost(ctx context.Context, p tariff.ShipmentParams, opts costing.Options) (costing.Breakdown, error)
	EstimateShipmentCost(ctx context.Context, shipmentID string, opts costing.Options) (costing.Breakdown, error)
	EstimateOrderCost(ctx context.Context, orderID string, opts costing.Options) (costing.Breakdown, error)
}

// RuleApplier evaluates pricing rules against a context.
type RuleApplier interface {
	Apply(ctx context.Context, c pricingrule.Context) (pricingrule.Result, error)
}

// Invoices receives carrier invoices, controls them and moves them through
// their lifecycle.
type Invoices interface {
	Receive(ctx context.Context, inv invoicecontrol.Invoice) (invoicecontrol.Invoice, error)
	Invoice(ctx context.Context, invoiceID string) (invoicecontrol.Invoice, error)
	ControlInvoice(ctx context.Context, invoiceID string) (invoicecontrol.Outcome, error)
	Validate(ctx context.Context, invoiceID, note string) (invoicecontrol.Invoice, error)
	Approve(ctx context.Context, invoiceID, note string) (invoicecontrol.Invoice, error)
	Dispute(ctx context.Context, invoiceID, reason string) (invoicecontrol.Invoice, error)
	Reject(ctx context.Context, invoiceID, reason string) (invoicecontrol.Invoice, error)
	Reopen(ctx context.Context, invoiceID, note string) (invoicecontrol.Invoice, error)
}

type Deps struct {
	Estimator Estimator
	Rules     RuleApplier
	Invoices  Invoices
	Logger    *zap.Logger
	// Secret returns the webhook signing secret of a source. Defaults to
	// config.WebhookSecret.
	Secret func(source string) string
	// WebhookRate and WebhookBurst throttle deliveries per source. A zero
	// rate disables throttling.
	WebhookRate  float64
	WebhookBurst int
}

type Server struct {
	est      Estimator
	rules    RuleApplier
	invoices Invoices
	logger   *zap.Logger
	secret   func(string) string
	limiter  *sourceLimiter
}

// New builds the HTTP handler. Routes whose collaborator is nil answer 503.
func New(deps Deps) http.Handler {
	s := &Server{
		est:      deps.Estimator,
		rules:    deps.Rules,
		invoices: deps.Invoices,
		logger:   deps.Logger,
		secret:   deps.Secret,
		limiter:  newSourceLimiter(deps.WebhookRate, deps.WebhookBurst),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.secret == nil {
		s.secret = config.WebhookSecret
	}

	r := chi.NewRouter()
	// Observability: Request ID and request log
	r.Use(s.requestIDMiddleware)
	r.Use(requestLogMiddleware)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)

	r.Post("/estimates/segments", s.handleEstimateSegment)
	r.Get("/shipments/{id}/estimate", s.handleEstimateShipment)
	r.Get("/orders/{id}/estimate", s.handleEstimateOrder)
	r.Post("/pricing-rules/apply", s.handleApplyPricingRules)

	r.Post("/invoices", s.handleReceiveInvoice)
	r.Get("/invoices/{id}", s.handleGetInvoice)
	r.Post("/invoices/{id}/control", s.handleControlInvoice)
	r.Post("/invoices/{id}/{action}", s.handleInvoiceTransition)

	r.Post("/webhooks/{source}", s.handleWebhook)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErrorJSON writes a standardized JSON error response:
// {"error": {"code": string, "message": string}}
func writeErrorJSON(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// writeError maps domain errors onto HTTP statuses. Anything unknown is
// logged and reported as a 500 without leaking details.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rate.ErrNoApplicableRate):
		writeErrorJSON(w, http.StatusUnprocessableEntity, "no_applicable_rate", err.Error())
	case errors.Is(err, rate.ErrUnknownRateType):
		writeErrorJSON(w, http.StatusUnprocessableEntity, "unknown_rate_type", err.Error())
	case errors.Is(err, invoicecontrol.ErrValidation):
		writeErrorJSON(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, invoicecontrol.ErrAlreadyProcessed):
		writeErrorJSON(w, http.StatusConflict, "already_processed", err.Error())
	case errors.Is(err, invoicecontrol.ErrInvalidTransition):
		writeErrorJSON(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeErrorJSON(w, http.StatusNotFound, "resource_not_found", "not found")
	case errors.Is(err, store.ErrConflict):
		writeErrorJSON(w, http.StatusConflict, "conflict", "resource already exists or changed concurrently")
	default:
		logging.FromContext(r.Context()).Error("request failed", zap.Error(err))
		writeErrorJSON(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func unavailable(w http.ResponseWriter, what string) {
	writeErrorJSON(w, http.StatusServiceUnavailable, "unavailable", what+" not configured")
}

// requestIDMiddleware ensures X-Request-ID is set on the response.
// If provided in the request header, it is propagated; otherwise a UUID is generated.
// The request logger carries the id.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if rid == "" {
			rid = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", rid)
		logger := s.logger.With(zap.String("request_id", rid))
		next.ServeHTTP(w, r.WithContext(logging.WithLogger(r.Context(), logger)))
	})
}

// requestLogMiddleware writes one line per request through the request
// logger, after the handler has answered.
func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		}
		logger := logging.FromContext(r.Context())
		if status >= http.StatusInternalServerError {
			logger.Warn("request served", fields...)
			return
		}
		logger.Info("request served", fields...)
	})
}

func orDefault(s, d string) string {
	if strings.TrimSpace(s) == "" {
		return d
	}
	return s
}
