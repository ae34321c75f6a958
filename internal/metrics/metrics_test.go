package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-throttle/internal/version"
)

// New

func TestNew_RegistryPopulated(t *testing.T) {
	m := New()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()

	// non-vec metrics appear before anything is observed
	for _, name := range []string{
		"throttle_wait_seconds",
		"throttle_interrupted_waits_total",
		"throttle_limit",
		"throttle_window_seconds",
		"http_inflight_requests",
		"http_panic_total",
		"profiling_active",
		"go_goroutines",
		"process_",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metric %q not found in /metrics output", name)
		}
	}
}

func TestNew_IsolatedRegistries(t *testing.T) {
	m1 := New()
	m2 := New()

	m1.IncBusy()

	if f := gatherMetric(t, m2.reg, "throttle_requests_total"); f != nil {
		t.Fatal("m2 should not see m1's observations")
	}
}

// throttle metrics

func TestObserveGranted(t *testing.T) {
	m := New()
	ctx := t.Context()

	m.ObserveGranted(ctx, "granted_immediately", 0)
	m.ObserveGranted(ctx, "granted_after_wait", 750*time.Millisecond)
	m.ObserveGranted(ctx, "granted_after_wait", 250*time.Millisecond)

	got := outcomeCounts(t, m.reg)
	if got["granted_immediately"] != 1 || got["granted_after_wait"] != 2 {
		t.Fatalf("outcomes = %v", got)
	}

	h := gatherMetric(t, m.reg, "throttle_wait_seconds").GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 3 {
		t.Fatalf("wait count = %d, want 3", h.GetSampleCount())
	}
	if h.GetSampleSum() != 1 {
		t.Fatalf("wait sum = %f, want 1", h.GetSampleSum())
	}
}

func TestObserveGranted_ExemplarFromSampledSpan(t *testing.T) {
	m := New()
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	ctx := trace.ContextWithSpanContext(t.Context(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	m.ObserveGranted(ctx, "granted_after_wait", time.Second)

	var found bool
	for _, b := range gatherMetric(t, m.reg, "throttle_wait_seconds").GetMetric()[0].GetHistogram().GetBucket() {
		if ex := b.GetExemplar(); ex != nil {
			if labelMap(ex.GetLabel())["trace_id"] == traceID.String() {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("expected trace_id exemplar on throttle_wait_seconds")
	}
}

func TestIncBusy(t *testing.T) {
	m := New()
	m.IncBusy()
	m.IncBusy()

	if got := outcomeCounts(t, m.reg)["busy"]; got != 2 {
		t.Fatalf("busy = %f, want 2", got)
	}
}

func TestIncInterrupted(t *testing.T) {
	m := New()
	m.IncInterrupted()

	if got := counterValue(t, m.reg, "throttle_interrupted_waits_total"); got != 1 {
		t.Fatalf("interrupted = %f, want 1", got)
	}
}

func TestSetThrottleConfig(t *testing.T) {
	m := New()
	m.SetThrottleConfig(5, 1500*time.Millisecond)

	if got := gaugeValue(t, m.reg, "throttle_limit"); got != 5 {
		t.Errorf("throttle_limit = %f, want 5", got)
	}
	if got := gaugeValue(t, m.reg, "throttle_window_seconds"); got != 1.5 {
		t.Errorf("throttle_window_seconds = %f, want 1.5", got)
	}
}

// ambient

func TestIncHttpPanic(t *testing.T) {
	m := New()
	m.IncHttpPanic()
	m.IncHttpPanic()

	if got := counterValue(t, m.reg, "http_panic_total"); got != 2 {
		t.Fatalf("http_panic_total = %f, want 2", got)
	}
}

func TestSetBuildInfoFromVersion(t *testing.T) {
	m := New()
	dirty := true
	m.SetBuildInfoFromVersion(&version.Info{
		App:        "app",
		Component:  "comp",
		Version:    "1.2.3",
		Commit:     "abc",
		CommitDate: "2026-01-01",
		BuildId:    "b1",
		BuildDate:  "2026-01-02",
		GoVersion:  "go1.24",
		VCSDirty:   &dirty,
	})

	f := gatherMetric(t, m.reg, "build_info")
	if f == nil {
		t.Fatal("build_info not found")
	}
	labels := labelMap(f.GetMetric()[0].GetLabel())
	want := map[string]string{
		"app":         "app",
		"component":   "comp",
		"version":     "1.2.3",
		"commit":      "abc",
		"commit_date": "2026-01-01",
		"build_id":    "b1",
		"build_date":  "2026-01-02",
		"go_version":  "go1.24",
		"vcs_dirty":   "true",
	}
	for k, v := range want {
		if labels[k] != v {
			t.Errorf("label %s = %q, want %q", k, labels[k], v)
		}
	}
	if f.GetMetric()[0].GetGauge().GetValue() != 1 {
		t.Error("build_info value should be 1")
	}
}

func TestSetBuildInfoFromVersion_NilVCSDirty(t *testing.T) {
	m := New()
	m.SetBuildInfoFromVersion(&version.Info{Version: "dev"})

	labels := labelMap(gatherMetric(t, m.reg, "build_info").GetMetric()[0].GetLabel())
	if labels["vcs_dirty"] != "unknown" {
		t.Fatalf("vcs_dirty = %q, want unknown", labels["vcs_dirty"])
	}
}

func TestSetProfilingActive(t *testing.T) {
	m := New()

	m.SetProfilingActive(true)
	if got := gaugeValue(t, m.reg, "profiling_active"); got != 1 {
		t.Fatalf("profiling_active = %f, want 1", got)
	}
	m.SetProfilingActive(false)
	if got := gaugeValue(t, m.reg, "profiling_active"); got != 0 {
		t.Fatalf("profiling_active = %f, want 0", got)
	}
}

func TestHandler_FullScrape(t *testing.T) {
	m := New()

	vi := version.Get()
	m.SetBuildInfoFromVersion(&vi)
	m.SetThrottleConfig(1, time.Second)
	m.ObserveGranted(t.Context(), "granted_immediately", 0)
	m.IncBusy()
	m.IncInterrupted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Result().Body)
	for _, want := range []string{
		`throttle_requests_total{outcome="busy"} 1`,
		`throttle_requests_total{outcome="granted_immediately"} 1`,
		`build_info{`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

// helpers

// gatherMetric collects metrics from the registry and finds one by name.
func gatherMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func mustGather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	f := gatherMetric(t, reg, name)
	if f == nil {
		t.Fatalf("metric %q not found", name)
	}
	if len(f.GetMetric()) == 0 {
		t.Fatalf("metric %q has no samples", name)
	}
	return f
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	return mustGather(t, reg, name).GetMetric()[0].GetCounter().GetValue()
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	return mustGather(t, reg, name).GetMetric()[0].GetGauge().GetValue()
}

func histogramCount(t *testing.T, reg *prometheus.Registry, name string) uint64 {
	t.Helper()
	return mustGather(t, reg, name).GetMetric()[0].GetHistogram().GetSampleCount()
}

func outcomeCounts(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	out := make(map[string]float64)
	for _, m := range mustGather(t, reg, "throttle_requests_total").GetMetric() {
		out[labelMap(m.GetLabel())["outcome"]] = m.GetCounter().GetValue()
	}
	return out
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, lp := range pairs {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}
