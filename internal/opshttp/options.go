package opshttp

import (
	"net/http"
	"time"

	"github.com/keithlinneman/linnemanlabs-throttle/internal/health"
	"github.com/keithlinneman/linnemanlabs-throttle/internal/throttle"
)

// StatusProvider is what /throttle reports on. *throttle.Throttle satisfies it.
type StatusProvider interface {
	Limit() int
	Window() time.Duration
	Stats() throttle.Stats
}

type Options struct {
	Port        int
	Metrics     http.Handler
	MetricsMW   func(http.Handler) http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	Status      StatusProvider
	// AllowPublic disables the private-network check, for listeners behind a proxy
	AllowPublic bool
	OnPanic     func() // e.g. increment a prometheus counter
}
