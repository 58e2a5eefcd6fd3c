package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.RecordPolicyDecision(true)
	metrics.SetSourceHealth("puppet", true)
	metrics.ObserveAggregation(50 * time.Millisecond)

	body := scrape(t, metrics)
	if !strings.Contains(body, "fleetglass_policy_decisions_total{outcome=\"allow\"} 1") {
		t.Fatalf("expected policy decision counter, got: %s", body)
	}
	if !strings.Contains(body, "fleetglass_source_healthy{source=\"puppet\"} 1") {
		t.Fatalf("expected source health gauge, got: %s", body)
	}
	if !strings.Contains(body, "fleetglass_inventory_aggregation_duration_seconds_bucket") {
		t.Fatalf("expected aggregation histogram, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, "http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, "http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
}

func TestCapabilityExecutionCounter(t *testing.T) {
	metrics := NewMetrics()
	metrics.RecordCapabilityExecution("inventory.list", "success")
	metrics.RecordCapabilityExecution("inventory.list", "success")

	body := scrape(t, metrics)
	if !strings.Contains(body, "fleetglass_capability_executions_total{capability=\"inventory.list\",outcome=\"success\"} 2") {
		t.Fatalf("expected execution counter, got: %s", body)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var metrics *Metrics
	metrics.RecordPolicyDecision(false)
	metrics.SetSourceHealth("puppet", false)
	metrics.ObserveAggregation(time.Second)
	if metrics.Middleware(nil) != nil {
		t.Fatal("nil metrics middleware must pass the handler through")
	}
}
