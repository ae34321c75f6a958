// Package throttle limits a caller to N admissions per rolling window W.
//
// The last N admission timestamps are kept in a ring buffer. A request looks at
// the oldest one: if it is less than one window old the caller sleeps until it
// expires, then the current time is recorded over it. The history starts filled
// with "construction time minus W" so the first N requests go straight through.
//
// # Contention
//
// Only one request at a time may be deciding or waiting. The gate is a
// non-blocking flag, not a mutex: a request that finds it taken returns Busy
// right away and nothing is recorded. Retrying is up to the caller. There is
// no queue and no fairness between callers.
//
// # Cancellation
//
// A context cancelled while a request is sleeping cuts the sleep short, but the
// request still records its admission and is granted. This matches the
// throttle's contract that a request which got past the gate is always granted;
// it can let an admission through early, which Stats reports as Interrupted.
//
// The throttle does not log. Observe it with the On* options, Stats, or the
// span emitted per request.
package throttle
