package main

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-throttle/internal/throttle"
)

type countingAdmitter struct {
	calls atomic.Int64
	grant func(n int64) bool
}

func (c *countingAdmitter) Admit(context.Context) bool {
	return c.grant(c.calls.Add(1))
}

func TestTicker_Format(t *testing.T) {
	var buf bytes.Buffer
	tk := newTicker(&buf)
	at := time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC)
	tk.now = func() time.Time { return at }

	if err := tk.tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	want := "2024-03-01T12:00:00.0000005Z: #\n"
	if buf.String() != want {
		t.Fatalf("line = %q, want %q", buf.String(), want)
	}
}

func TestDrive_TicksOnlyOnAdmission(t *testing.T) {
	var buf bytes.Buffer
	a := &countingAdmitter{grant: func(n int64) bool { return n%2 == 0 }}

	got := drive(context.Background(), a, newTicker(&buf), 10, 1)
	if got != 5 {
		t.Fatalf("admitted = %d, want 5", got)
	}
	if a.calls.Load() != 10 {
		t.Fatalf("Admit calls = %d, want 10", a.calls.Load())
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("lines = %d, want 5:\n%s", len(lines), buf.String())
	}
	for _, l := range lines {
		if !strings.HasSuffix(l, ": #") {
			t.Errorf("unexpected line %q", l)
		}
	}
}

func TestDrive_WorkersShareIterations(t *testing.T) {
	var buf bytes.Buffer
	a := &countingAdmitter{grant: func(int64) bool { return true }}

	got := drive(context.Background(), a, newTicker(&buf), 3, 4)
	if got != 12 || a.calls.Load() != 12 {
		t.Fatalf("admitted=%d calls=%d, want 12/12", got, a.calls.Load())
	}
	if n := strings.Count(buf.String(), ": #\n"); n != 12 {
		t.Fatalf("ticks = %d, want 12", n)
	}
}

func TestDrive_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &countingAdmitter{grant: func(n int64) bool {
		if n == 2 {
			cancel()
		}
		return true
	}}

	got := drive(ctx, a, newTicker(&bytes.Buffer{}), 100, 1)
	if got != 2 {
		t.Fatalf("admitted = %d, want 2 (loop should stop after the cancelled admission)", got)
	}
}

func TestDrive_RealThrottlePacesAdmissions(t *testing.T) {
	th, err := throttle.New(2, 40, time.Millisecond)
	if err != nil {
		t.Fatalf("throttle.New: %v", err)
	}

	var buf bytes.Buffer
	start := time.Now()
	got := drive(context.Background(), th, newTicker(&buf), 4, 1)
	elapsed := time.Since(start)

	if got != 4 {
		t.Fatalf("admitted = %d, want 4", got)
	}
	// third admission has to wait for the first to leave the window
	if elapsed < 40*time.Millisecond {
		t.Fatalf("elapsed %s, want >= 40ms", elapsed)
	}
	st := th.Stats()
	if st.Immediate+st.Waited != 4 || st.Waited < 1 || st.Busy != 0 {
		t.Fatalf("stats = %+v, want 4 granted with at least one wait", st)
	}
}
