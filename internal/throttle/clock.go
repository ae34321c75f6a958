package throttle

import "time"

// Clock is the time source a Throttle reads and sleeps on.
type Clock interface {
	Now() time.Time
	// After delivers once d has elapsed
	After(d time.Duration) <-chan time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time                         { return time.Now() }
func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
