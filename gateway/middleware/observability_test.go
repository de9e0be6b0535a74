package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestObservabilityRecordsRouteMetrics(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{Enabled: true, LogRequests: true}, nil)
	handler := obs.Middleware("markets")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/markets", nil))
	if res.Code != http.StatusTeapot {
		t.Fatalf("expected status passthrough, got %d", res.Code)
	}

	metrics := httptest.NewRecorder()
	obs.MetricsHandler().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := metrics.Body.String()
	if !strings.Contains(body, `comptroller_http_requests_total{method="GET",route="markets",status="I'm a teapot"} 1`) {
		t.Fatalf("route counter missing from metrics output:\n%s", body)
	}
}
