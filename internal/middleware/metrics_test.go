package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/meridian-crm/meridian/internal/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// counterValue reads the current value of one http_requests_total series.
func counterValue(method, route, status string) float64 {
	return testutil.ToFloat64(telemetry.HTTPRequestsTotal.WithLabelValues(method, route, status))
}

// histogramSamples reads the sample count of one http_request_duration_seconds series.
func histogramSamples(t *testing.T, method, route string) uint64 {
	t.Helper()
	child, ok := telemetry.HTTPRequestDuration.WithLabelValues(method, route).(prometheus.Metric)
	if !ok {
		t.Fatal("histogram child does not implement prometheus.Metric")
	}
	var dm dto.Metric
	if err := child.Write(&dm); err != nil {
		t.Fatalf("write histogram metric: %v", err)
	}
	return dm.GetHistogram().GetSampleCount()
}

func serveMetrics(route, url string, status int) {
	r := gin.New()
	r.Use(MetricsMiddleware())
	if route != "" {
		r.GET(route, func(c *gin.Context) { c.Status(status) })
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))
}

func TestMetricsMiddleware_CountsByRouteTemplate(t *testing.T) {
	// Distinct route per test so parallel series never interfere.
	before := counterValue("GET", "/contacts/:id", "200")

	serveMetrics("/contacts/:id", "/contacts/42", http.StatusOK)

	if got := counterValue("GET", "/contacts/:id", "200"); got != before+1 {
		t.Errorf("counter for route template = %v, want %v", got, before+1)
	}
	// The raw URL must never become a label value.
	if got := counterValue("GET", "/contacts/42", "200"); got != 0 {
		t.Errorf("counter exists for raw URL /contacts/42: %v", got)
	}
}

func TestMetricsMiddleware_ObservesLatency(t *testing.T) {
	before := histogramSamples(t, "GET", "/alerts/:id")

	serveMetrics("/alerts/:id", "/alerts/7", http.StatusOK)

	if got := histogramSamples(t, "GET", "/alerts/:id"); got != before+1 {
		t.Errorf("histogram sample count = %d, want %d", got, before+1)
	}
}

func TestMetricsMiddleware_UnmatchedRouteUsesSentinel(t *testing.T) {
	before := counterValue("GET", "<no-route>", "404")

	serveMetrics("", "/probed/by/scanner", http.StatusOK)

	if got := counterValue("GET", "<no-route>", "404"); got != before+1 {
		t.Errorf("<no-route> counter = %v, want %v", got, before+1)
	}
}

func TestMetricsMiddleware_RecordsErrorStatus(t *testing.T) {
	before := counterValue("GET", "/failing/:id", "500")

	serveMetrics("/failing/:id", "/failing/1", http.StatusInternalServerError)

	if got := counterValue("GET", "/failing/:id", "500"); got != before+1 {
		t.Errorf("counter for status 500 = %v, want %v", got, before+1)
	}
}
