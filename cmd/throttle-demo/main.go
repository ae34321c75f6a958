package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/keithlinneman/linnemanlabs-throttle/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-throttle/internal/health"
	"github.com/keithlinneman/linnemanlabs-throttle/internal/log"
	"github.com/keithlinneman/linnemanlabs-throttle/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-throttle/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-throttle/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-throttle/internal/prof"
	"github.com/keithlinneman/linnemanlabs-throttle/internal/throttle"
	v "github.com/keithlinneman/linnemanlabs-throttle/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (component=%s, commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.App, vi.Version, vi.Component, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return 0
	}

	// Fill in config from environment variables with prefix THROTTLE_ and validate
	cfg.FillFromEnv(flag.CommandLine, "THROTTLE_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	// Setup logging. stdout carries the admission lines, logs go to stderr
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		return 1
	}
	// empty leaves the logger default (error)
	var stLvl slog.Level
	if conf.StacktraceLevel != "" {
		if stLvl, err = log.ParseLevel(conf.StacktraceLevel); err != nil {
			fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
			return 1
		}
	}
	lg, err := log.New(log.Options{
		App:              v.AppName,
		Version:          vi.Version,
		Level:            lvl,
		StacktraceLevel:  stLvl,
		JsonFormat:       conf.LogJSON,
		IncludeErrorSite: true,
		Writer:           os.Stderr,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		return 1
	}
	defer lg.Sync()
	runID := uuid.NewString()
	L := lg.With("component", v.Component, "run_id", runID)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"calls", conf.Calls,
		"window", conf.Window,
		"window_unit", conf.WindowUnit,
		"iterations", conf.Iterations,
		"workers", conf.Workers,
		"enable_admin", conf.EnableAdmin,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"enable_pyroscope", conf.EnablePyroscope,
		"pyro_server", conf.PyroServer,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(&vi)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": v.Component,
			"version":   vi.Version,
			"commit":    vi.Commit,
			"run_id":    runID,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Setup otel for tracing, collector is expected on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: v.Component,
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, continuing without trace export")
		shutdownOTEL = func(context.Context) error { return nil }
	}

	unit, err := cfg.ParseUnit(conf.WindowUnit)
	if err != nil {
		L.Error(ctx, err, "invalid window unit")
		return 1
	}

	// busy rejections can arrive in a tight loop, only log a sample of them
	busyLog := log.Sampled(L, conf.BusyLogInterval)
	th, err := throttle.New(conf.Calls, conf.Window, unit,
		throttle.WithOnGranted(func(ctx context.Context, outcome throttle.Outcome, wait time.Duration) {
			m.ObserveGranted(ctx, outcome.String(), wait)
			L.Debug(ctx, "admitted", "outcome", outcome.String(), "wait", wait)
		}),
		throttle.WithOnBusy(func(ctx context.Context) {
			m.IncBusy()
			busyLog.Info(ctx, "throttle busy, request rejected")
		}),
		throttle.WithOnInterrupted(func(ctx context.Context, remaining time.Duration) {
			m.IncInterrupted()
			L.Warn(ctx, "throttle wait interrupted, admitting early", "remaining", remaining)
		}),
	)
	if err != nil {
		L.Error(ctx, err, "failed to create throttle")
		return 1
	}
	m.SetThrottleConfig(th.Limit(), th.Window())

	// readiness fails until the run starts and again once we begin shutting down
	var gate health.Gate
	gate.Close("starting")

	opsHTTPStop := func(context.Context) error { return nil }
	if conf.EnableAdmin {
		// requests from public addresses are refused by the ops router
		opsHTTPStop, err = opshttp.Start(ctx, L, &opshttp.Options{
			Port:        conf.AdminPort,
			Metrics:     m.Handler(),
			MetricsMW:   m.Middleware,
			EnablePprof: conf.EnablePprof,
			Health:      health.Fixed(true, ""),
			Readiness:   gate.Probe(),
			Status:      th,
			OnPanic:     m.IncHttpPanic,
		})
		if err != nil {
			L.Error(ctx, err, "failed to start ops http listener")
			return 1
		}
	}

	gate.Open()
	L.Info(ctx, "throttle ready", "limit", th.Limit(), "window", th.Window())

	start := time.Now()
	admitted := drive(ctx, th, newTicker(os.Stdout), conf.Iterations, conf.Workers)
	st := th.Stats()
	L.Info(ctx, "run complete",
		"admitted", admitted,
		"granted_immediately", st.Immediate,
		"granted_after_wait", st.Waited,
		"busy", st.Busy,
		"interrupted", st.Interrupted,
		"total_wait", st.TotalWait,
		"elapsed", time.Since(start),
	)

	if conf.Hold && ctx.Err() == nil {
		L.Info(ctx, "holding admin listener until signalled", "admin_port", conf.AdminPort)
		<-ctx.Done()
	}
	if ctx.Err() != nil {
		L.Info(context.Background(), "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	gate.Close("draining")

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	L.Info(context.Background(), "shutdown complete")
	return 0
}
