package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	authcore "github.com/mwhitlock/authcore"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func gather(t *testing.T, exp *Exporter) map[string]float64 {
	t.Helper()
	reg := prometheus.NewRegistry()
	if err := reg.Register(exp); err != nil {
		t.Fatalf("register collector: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]float64, len(families))
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			if c := m.GetCounter(); c != nil {
				out[fam.GetName()] = c.GetValue()
			}
			if h := m.GetHistogram(); h != nil {
				out[fam.GetName()+"_count"] = float64(h.GetSampleCount())
				for _, b := range h.GetBucket() {
					if b.GetUpperBound() == 0.005 {
						out[fam.GetName()+"_bucket_first"] = float64(b.GetCumulativeCount())
					}
				}
			}
		}
	}
	return out
}

func TestCollectExportsCountersAndHistogram(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:         7,
				authcore.MetricRefreshReuseDetected: 2,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricVerifyLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 3,
	})

	values := gather(t, exp)
	if got := values["authcore_login_success_total"]; got != 7 {
		t.Fatalf("login_success = %v, want 7", got)
	}
	if got := values["authcore_refresh_reuse_detected_total"]; got != 2 {
		t.Fatalf("reuse_detected = %v, want 2", got)
	}
	if got := values["authcore_verify_latency_seconds_count"]; got != 36 {
		t.Fatalf("histogram count = %v, want 36", got)
	}
	if got := values["authcore_verify_latency_seconds_bucket_first"]; got != 1 {
		t.Fatalf("first bucket = %v, want 1", got)
	}
	if got := values["authcore_audit_dropped_total"]; got != 3 {
		t.Fatalf("audit_dropped = %v, want 3", got)
	}
}

func TestCollectZeroSnapshot(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters:   map[authcore.MetricID]uint64{},
			Histograms: map[authcore.MetricID][]uint64{},
		},
	})

	values := gather(t, exp)
	if got := values["authcore_login_success_total"]; got != 0 {
		t.Fatalf("expected zero counter, got %v", got)
	}
	if got := values["authcore_verify_latency_seconds_count"]; got != 0 {
		t.Fatalf("expected empty histogram, got %v", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters:   map[authcore.MetricID]uint64{authcore.MetricLoginSuccess: 1},
			Histograms: map[authcore.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "authcore_login_success_total 1") {
		t.Fatalf("expected login counter in body:\n%s", body)
	}
}
