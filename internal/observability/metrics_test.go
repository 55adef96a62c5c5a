package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fiscalbridge/internal/fiscal"
	jobmetrics "github.com/odyssey-erp/fiscalbridge/internal/jobs"
)

func TestMetricsHandlerExposesJobMetrics(t *testing.T) {
	metrics := NewMetrics()
	jobs := jobmetrics.NewMetrics(metrics.Registerer())
	jobs.ObserveSubmission(fiscal.ClassSale, "acknowledged")

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `fiscal_submissions_total{class="sale",outcome="acknowledged"} 1`) {
		t.Fatalf("expected submission counter, got: %s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected runtime collectors, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/ops/sweep")

	req := httptest.NewRequest(http.MethodPost, "/ops/sweep", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, rr.Code)
	}

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := metricsRR.Body.String()
	if !strings.Contains(body, `fiscal_ops_http_requests_total{code="202",route="/ops/sweep"} 1`) {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, `fiscal_ops_http_request_duration_seconds_bucket{route="/ops/sweep"`) {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
}

func TestObserveGateway(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveGateway("/trnsSales/saveSales", "acknowledged", 120*time.Millisecond)
	metrics.ObserveGateway("/trnsSales/saveSales", "unreachable", 30*time.Second)
	metrics.ObserveGateway("/trnsSales/saveSales", "unreachable", time.Second)

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.gatewayCalls.WithLabelValues("/trnsSales/saveSales", "unreachable")))
	require.Equal(t, 1, testutil.CollectAndCount(metrics.gatewayDuration))

	var nilMetrics *Metrics
	require.NotPanics(t, func() { nilMetrics.ObserveGateway("/items/saveItems", "rejected", time.Second) })
}
