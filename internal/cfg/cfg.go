package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-throttle/internal/log"
)

type App struct {
	Calls           int
	Window          int64
	WindowUnit      string
	Iterations      int
	Workers         int
	Hold            bool
	BusyLogInterval time.Duration
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string
	EnableAdmin     bool
	AdminPort       int
	EnablePprof     bool
	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.IntVar(&c.Calls, "calls", 1, "admissions allowed per window (>= 1)")
	fs.Int64Var(&c.Window, "window", 1, "window length in window-unit (> 0)")
	fs.StringVar(&c.WindowUnit, "window-unit", "s", "ns|us|ms|s|m|h")
	fs.IntVar(&c.Iterations, "iterations", 10, "admission attempts per worker (>= 1)")
	fs.IntVar(&c.Workers, "workers", 1, "concurrent callers sharing the throttle (>= 1)")
	fs.BoolVar(&c.Hold, "hold", false, "keep the admin listener up after the run until signalled")
	fs.DurationVar(&c.BusyLogInterval, "busy-log-interval", time.Second, "log at most one busy rejection per interval (0 logs all)")
	fs.BoolVar(&c.LogJSON, "log-json", false, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.EnableAdmin, "enable-admin", false, "serve metrics, health and throttle status on admin-port")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 1.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

var units = map[string]time.Duration{
	"ns": time.Nanosecond,
	"us": time.Microsecond,
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
}

// ParseUnit maps a window-unit name to its duration.
func ParseUnit(s string) (time.Duration, error) {
	if d, ok := units[strings.ToLower(strings.TrimSpace(s))]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("unknown window unit %q (valid units are ns|us|ms|s|m|h)", s)
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Throttle
	if c.Calls < 1 {
		errs = append(errs, fmt.Errorf("invalid CALLS %d (must be >= 1)", c.Calls))
	}
	if c.Window <= 0 {
		errs = append(errs, fmt.Errorf("invalid WINDOW %d (must be > 0)", c.Window))
	}
	if _, err := ParseUnit(c.WindowUnit); err != nil {
		errs = append(errs, fmt.Errorf("invalid WINDOW_UNIT: %w", err))
	}

	// Driver
	if c.Iterations < 1 {
		errs = append(errs, fmt.Errorf("invalid ITERATIONS %d (must be >= 1)", c.Iterations))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("invalid WORKERS %d (must be >= 1)", c.Workers))
	}
	if c.BusyLogInterval < 0 {
		errs = append(errs, fmt.Errorf("invalid BUSY_LOG_INTERVAL %s (must be >= 0)", c.BusyLogInterval))
	}
	if c.Hold && !c.EnableAdmin {
		errs = append(errs, fmt.Errorf("HOLD requires ENABLE_ADMIN=true"))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Admin listener
	if c.EnableAdmin && (c.AdminPort < 1 || c.AdminPort > 65535) {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}

	// Tracing
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	// grpc exporter wants host:port, no scheme
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Pyroscope
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
