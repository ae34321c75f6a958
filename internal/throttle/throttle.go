package throttle

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-throttle/internal/ringbuf"
	"github.com/keithlinneman/linnemanlabs-throttle/internal/xerrors"
)

const tracerName = "github.com/keithlinneman/linnemanlabs-throttle/internal/throttle"

// Outcome is the result of a single Request.
type Outcome int

const (
	// Busy means another request held the gate; no decision was made
	Busy Outcome = iota
	GrantedImmediately
	GrantedAfterWait
)

func (o Outcome) String() string {
	switch o {
	case Busy:
		return "busy"
	case GrantedImmediately:
		return "granted_immediately"
	case GrantedAfterWait:
		return "granted_after_wait"
	default:
		return "unknown"
	}
}

// Granted reports whether the request was admitted.
func (o Outcome) Granted() bool { return o == GrantedImmediately || o == GrantedAfterWait }

// Stats are cumulative counters since construction.
type Stats struct {
	Immediate   uint64
	Waited      uint64
	Busy        uint64
	Interrupted uint64
	// TotalWait is time actually spent sleeping, interrupted sleeps included
	TotalWait time.Duration
}

// Throttle admits at most Limit() requests per rolling Window().
type Throttle struct {
	limit  int
	window time.Duration

	// gate is held for the whole decide+sleep+record section.
	// history is only touched while holding it.
	gate    atomic.Bool
	history *ringbuf.Buffer[time.Time]

	clock  Clock
	tracer trace.Tracer

	onGranted     func(ctx context.Context, outcome Outcome, wait time.Duration)
	onBusy        func(ctx context.Context)
	onInterrupted func(ctx context.Context, remaining time.Duration)

	immediate   atomic.Uint64
	waited      atomic.Uint64
	busy        atomic.Uint64
	interrupted atomic.Uint64
	waitNanos   atomic.Int64
}

// New creates a Throttle allowing limit requests per length*unit.
// New(1, 1, time.Second) allows one request per second.
func New(limit int, length int64, unit time.Duration, opts ...Option) (*Throttle, error) {
	if limit < 1 {
		return nil, xerrors.WithStack(&ConfigError{Field: "limit", Value: limit, Reason: "must be >= 1"})
	}
	if length <= 0 {
		return nil, xerrors.WithStack(&ConfigError{Field: "window length", Value: length, Reason: "must be > 0"})
	}
	if unit <= 0 {
		return nil, xerrors.WithStack(&ConfigError{Field: "window unit", Value: unit, Reason: "must be > 0"})
	}
	if length > math.MaxInt64/int64(unit) {
		return nil, xerrors.WithStack(&ConfigError{Field: "window length", Value: length, Reason: "overflows time.Duration in unit " + unit.String()})
	}
	window := time.Duration(length) * unit

	t := &Throttle{
		limit:  limit,
		window: window,
		clock:  wallClock{},
	}
	for _, o := range opts {
		o(t)
	}
	if t.tracer == nil {
		t.tracer = otel.Tracer(tracerName)
	}

	// pre-expired history: the first limit requests see no wait
	h, err := ringbuf.New(limit, t.clock.Now().Add(-window))
	if err != nil {
		return nil, xerrors.Wrap(err, "throttle history")
	}
	t.history = h
	return t, nil
}

// Limit is the number of admissions allowed per window.
func (t *Throttle) Limit() int { return t.limit }

// Window is the rolling window length, length*unit from New.
func (t *Throttle) Window() time.Duration { return t.window }

// Admit returns true once the request has been admitted, sleeping first if the
// window is full. It returns false without waiting when another request is in
// progress.
func (t *Throttle) Admit(ctx context.Context) bool {
	return t.Request(ctx).Granted()
}

// Request is Admit with the outcome spelled out.
func (t *Throttle) Request(ctx context.Context) Outcome {
	ctx, span := t.tracer.Start(ctx, "throttle.Request",
		trace.WithAttributes(
			attribute.Int("throttle.limit", t.limit),
			attribute.Float64("throttle.window_seconds", t.window.Seconds()),
		),
	)
	defer span.End()

	if !t.gate.CompareAndSwap(false, true) {
		t.busy.Add(1)
		span.SetAttributes(attribute.String("throttle.outcome", Busy.String()))
		if t.onBusy != nil {
			t.onBusy(ctx)
		}
		return Busy
	}

	now := t.clock.Now()
	wait := t.history.Oldest().Add(t.window).Sub(now)

	var slept, remaining time.Duration
	if wait > 0 {
		remaining = t.sleep(ctx, now.Add(wait), wait)
		slept = wait - remaining
	}

	// admission time is after the sleep, not when the request arrived
	t.history.Record(t.clock.Now())
	t.gate.Store(false)

	outcome := GrantedImmediately
	if wait > 0 {
		outcome = GrantedAfterWait
		t.waited.Add(1)
		t.waitNanos.Add(int64(slept))
	} else {
		t.immediate.Add(1)
	}

	span.SetAttributes(
		attribute.String("throttle.outcome", outcome.String()),
		attribute.Float64("throttle.wait_seconds", slept.Seconds()),
	)
	if remaining > 0 {
		t.interrupted.Add(1)
		span.AddEvent("wait interrupted", trace.WithAttributes(
			attribute.Float64("throttle.remaining_seconds", remaining.Seconds()),
		))
		if t.onInterrupted != nil {
			t.onInterrupted(ctx, remaining)
		}
	}
	if t.onGranted != nil {
		t.onGranted(ctx, outcome, slept)
	}
	return outcome
}

// sleep blocks for d or until ctx is done, whichever is first.
// deadline is when d ends, measured from the same reading the wait was computed from.
// Returns how much of d was left, 0 when the full sleep completed.
// A ctx that is already done when the sleep starts cannot cut it short.
func (t *Throttle) sleep(ctx context.Context, deadline time.Time, d time.Duration) time.Duration {
	if ctx.Err() != nil {
		<-t.clock.After(d)
		return 0
	}
	select {
	case <-t.clock.After(d):
		return 0
	case <-ctx.Done():
		// cancellation is absorbed, the caller is still admitted
		if left := deadline.Sub(t.clock.Now()); left > 0 {
			return left
		}
		return 0
	}
}

// Stats returns a snapshot of the counters. Each field is read atomically,
// the snapshot as a whole is not.
func (t *Throttle) Stats() Stats {
	return Stats{
		Immediate:   t.immediate.Load(),
		Waited:      t.waited.Load(),
		Busy:        t.busy.Load(),
		Interrupted: t.interrupted.Load(),
		TotalWait:   time.Duration(t.waitNanos.Load()),
	}
}
