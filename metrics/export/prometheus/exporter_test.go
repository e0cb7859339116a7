package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/denden/memberauth"
)

type fakeSource struct {
	snapshot memberauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() memberauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                        { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: memberauth.MetricsSnapshot{
			Counters:   map[memberauth.MetricID]uint64{},
			Histograms: map[memberauth.MetricID][]uint64{},
		},
		dropped: 0,
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderIncludesCounterAndHistogram(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: memberauth.MetricsSnapshot{
			Counters: map[memberauth.MetricID]uint64{
				memberauth.MetricLoginSuccess: 7,
			},
			Histograms: map[memberauth.MetricID][]uint64{
				memberauth.MetricTokenValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	if !strings.Contains(out, "memberauth_login_success_total 7") {
		t.Fatalf("expected login_success counter in output, got:\n%s", out)
	}
	if !strings.Contains(out, "memberauth_token_validate_latency_seconds_bucket{le=\"0.005\"} 1") {
		t.Fatalf("expected first histogram bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "memberauth_token_validate_latency_seconds_bucket{le=\"+Inf\"} 36") {
		t.Fatalf("expected +Inf cumulative bucket in output, got:\n%s", out)
	}
	if !strings.Contains(out, "memberauth_audit_dropped_total 2") {
		t.Fatalf("expected audit dropped counter in output, got:\n%s", out)
	}
}

func TestRenderFromEngineSnapshot(t *testing.T) {
	metrics := memberauth.NewMetrics(memberauth.MetricsConfig{Enabled: true})
	metrics.Inc(memberauth.MetricRegisterSuccess)
	metrics.Inc(memberauth.MetricRegisterSuccess)

	exp := NewExporterFromSource(fakeSource{snapshot: metrics.Snapshot()})

	if out := exp.Render(); !strings.Contains(out, "memberauth_register_success_total 2") {
		t.Fatalf("expected register counter in output, got:\n%s", out)
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: memberauth.MetricsSnapshot{
			Counters:   map[memberauth.MetricID]uint64{memberauth.MetricLoginSuccess: 1},
			Histograms: map[memberauth.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
