package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHTTPMetricsLabelByRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)
	m.ObserveRequest(http.MethodPost, "/api/v1/reservations/{reservationId}/release", http.StatusOK, 12*time.Millisecond)
	m.ObserveRequest(http.MethodPost, "/api/v1/reservations/{reservationId}/release", http.StatusOK, 8*time.Millisecond)
	m.ObserveRequest(http.MethodGet, "", http.StatusNotFound, time.Millisecond)

	got := gather(t, reg)
	if v := got.counter(t, "parkez_http_requests_total", "route", "/api/v1/reservations/{reservationId}/release", "status", "200"); v != 2 {
		t.Fatalf("expected 2 release requests, got %v", v)
	}
	if got.sample("parkez_http_requests_total", "route", "unknown") == nil {
		t.Fatal("blank route should be labelled unknown")
	}
}

func TestNilHTTPMetricsAreNoops(t *testing.T) {
	var m *HTTPMetrics
	m.ObserveRequest(http.MethodGet, "/health/live", http.StatusOK, time.Millisecond)
	NewHTTPMetrics(nil).ObserveRequest(http.MethodGet, "/health/live", http.StatusOK, time.Millisecond)
}
