package throttle

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Option configures a Throttle at construction.
type Option func(*Throttle)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c Clock) Option {
	return func(t *Throttle) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithTracerProvider sets where per-request spans go. Defaults to the global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(t *Throttle) {
		if tp != nil {
			t.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithOnGranted is called after every admission with its outcome and the time
// spent sleeping. ctx carries the request span.
// Runs after the gate is released, so it may be slow without blocking other callers.
func WithOnGranted(fn func(ctx context.Context, outcome Outcome, wait time.Duration)) Option {
	return func(t *Throttle) {
		t.onGranted = fn
	}
}

// WithOnBusy is called on every request rejected because the gate was held.
func WithOnBusy(fn func(ctx context.Context)) Option {
	return func(t *Throttle) {
		t.onBusy = fn
	}
}

// WithOnInterrupted is called when a context cancellation cut a sleep short.
// remaining is how much of the sleep was skipped.
func WithOnInterrupted(fn func(ctx context.Context, remaining time.Duration)) Option {
	return func(t *Throttle) {
		t.onInterrupted = fn
	}
}
