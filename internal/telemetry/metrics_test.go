package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestInstrumentCountsByStatusClass(t *testing.T) {
	h := Instrument("ping", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := counterValue(t, RequestsTotal.WithLabelValues("ping", "4xx"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
	after := counterValue(t, RequestsTotal.WithLabelValues("ping", "4xx"))

	if after-before != 1 {
		t.Fatalf("ping 4xx counter moved by %v, want 1", after-before)
	}
}

func TestMetricsHandlerExposesProtocolMetrics(t *testing.T) {
	SetBuildInfo("test", "deadbeef")
	Entries.WithLabelValues("Proc-1").Inc()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, name := range []string{
		"zephyrmutex_critical_section_entries_total",
		"zephyrmutex_build_info",
		"zephyrmutex_uptime_seconds",
	} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("/metrics does not expose %s", name)
		}
	}
}
