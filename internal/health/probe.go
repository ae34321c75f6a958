package health

import (
	"context"
	"sync"

	"github.com/keithlinneman/linnemanlabs-throttle/internal/xerrors"
)

// Probe is evaluated at request time.
// nil = OK, non-nil = FAIL with reason.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed returns a probe that always passes, or always fails with reason.
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes only if every probe passes and returns the first failure.
// nil probes are skipped.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Any passes if at least one probe passes, otherwise returns the last failure.
func Any(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		var last error
		for _, p := range ps {
			if p == nil {
				continue
			}
			err := p.Check(ctx)
			if err == nil {
				return nil
			}
			last = err
		}
		if last != nil {
			return last
		}
		return xerrors.New("no healthy probes")
	}
}

// Gate is an open/closed readiness switch. The zero value is open.
type Gate struct {
	mu     sync.RWMutex
	closed bool
	reason string
}

// Close fails the gate's probe with reason until Open is called.
func (g *Gate) Close(reason string) {
	if reason == "" {
		reason = "not ready"
	}
	g.mu.Lock()
	g.closed, g.reason = true, reason
	g.mu.Unlock()
}

func (g *Gate) Open() {
	g.mu.Lock()
	g.closed, g.reason = false, ""
	g.mu.Unlock()
}

// State reports whether the gate is closed and why.
func (g *Gate) State() (closed bool, reason string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed, g.reason
}

func (g *Gate) Probe() CheckFunc {
	return func(context.Context) error {
		if closed, reason := g.State(); closed {
			return xerrors.New(reason)
		}
		return nil
	}
}
