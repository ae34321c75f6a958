package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// admitter is the part of *throttle.Throttle the driver needs.
type admitter interface {
	Admit(ctx context.Context) bool
}

// ticker writes one "<timestamp>: #" line per admission.
// Safe for concurrent use, lines never interleave.
type ticker struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

func newTicker(w io.Writer) *ticker {
	return &ticker{w: w, now: time.Now}
}

func (t *ticker) tick() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.w, "%s: #\n", t.now().Format(time.RFC3339Nano))
	return err
}

// drive runs workers goroutines, each calling Admit iterations times in a
// tight loop and ticking on every admission. A done ctx stops the loops
// after the admission in flight. Returns the number of admissions.
func drive(ctx context.Context, a admitter, out *ticker, iterations, workers int) int {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := 0
			for i := 0; i < iterations; i++ {
				if ctx.Err() != nil {
					break
				}
				if a.Admit(ctx) {
					n++
					_ = out.tick()
				}
			}
			mu.Lock()
			admitted += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	return admitted
}
