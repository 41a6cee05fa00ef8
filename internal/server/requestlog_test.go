package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLog_WritesThroughRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := New(Deps{Logger: zap.New(core)})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "rid-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	// Routes without a collaborator answer 503 and log at warn.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/shipments/S-1/estimate", nil))

	entries := logs.FilterMessage("request served").All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 request log entries, got %d", len(entries))
	}
	first := entries[0].ContextMap()
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info level, got %s", entries[0].Level)
	}
	if first["request_id"] != "rid-1" || first["path"] != "/healthz" || first["method"] != http.MethodGet {
		t.Fatalf("unexpected fields: %v", first)
	}
	if first["status"] != int64(http.StatusOK) || first["bytes"] != int64(2) {
		t.Fatalf("unexpected status or size: %v", first)
	}

	second := entries[1].ContextMap()
	if entries[1].Level != zapcore.WarnLevel || second["status"] != int64(http.StatusServiceUnavailable) {
		t.Fatalf("unexpected unavailable entry: %s %v", entries[1].Level, second)
	}
	if id, _ := second["request_id"].(string); id == "" {
		t.Fatalf("expected generated request id, got %v", second)
	}
}
