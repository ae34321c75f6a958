package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-throttle/internal/version"
)

type ThrottleMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	admissionsTotal  *prometheus.CounterVec
	waitSeconds      prometheus.Histogram
	interruptedTotal prometheus.Counter
	limit            prometheus.Gauge
	windowSeconds    prometheus.Gauge

	// admin listener
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge
}

// New returns a fresh registry + standard collectors + throttle and admin HTTP metrics
// safe labels only (outcome, method, route, code) to avoid cardinality explosions
func New() *ThrottleMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ThrottleMetrics{
		admissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "throttle_requests_total",
			Help: "Total throttle requests by outcome (granted_immediately, granted_after_wait, busy)",
		}, []string{"outcome"}),
		waitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "throttle_wait_seconds",
			Help:    "Time granted requests spent sleeping before admission",
			Buckets: []float64{0, 0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		interruptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "throttle_interrupted_waits_total",
			Help: "Total waits cut short by cancellation (request still admitted)",
		}),
		limit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "throttle_limit",
			Help: "Configured admissions per window",
		}),
		windowSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "throttle_window_seconds",
			Help: "Configured window length in seconds",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight admin HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total admin HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Admin request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Admin response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx admin HTTP errors by method and route",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered admin handler panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.admissionsTotal,
		m.waitSeconds,
		m.interruptedTotal,
		m.limit,
		m.windowSeconds,
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.profilingActive,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ThrottleMetrics) Handler() http.Handler {
	return m.handler
}

func (m *ThrottleMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *ThrottleMetrics) SetBuildInfoFromVersion(vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         vi.App,
		"component":   vi.Component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

// SetThrottleConfig publishes the limit and window, set once at startup.
func (m *ThrottleMetrics) SetThrottleConfig(limit int, window time.Duration) {
	m.limit.Set(float64(limit))
	m.windowSeconds.Set(window.Seconds())
}

// ObserveGranted counts an admission under outcome and records how long it slept.
func (m *ThrottleMetrics) ObserveGranted(ctx context.Context, outcome string, wait time.Duration) {
	m.admissionsTotal.WithLabelValues(outcome).Inc()

	observe(ctx, m.waitSeconds, wait.Seconds())
}

func (m *ThrottleMetrics) IncBusy() {
	m.admissionsTotal.WithLabelValues("busy").Inc()
}

func (m *ThrottleMetrics) IncInterrupted() {
	m.interruptedTotal.Inc()
}

func (m *ThrottleMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}
