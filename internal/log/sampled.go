package log

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// sampledLogger lets at most one Debug/Info/Warn record through per interval.
// Error is never dropped. Loggers derived with With share the same budget.
type sampledLogger struct {
	next Logger
	s    *rate.Sometimes
}

// Sampled wraps l so hot-path messages (e.g. every busy rejection) cannot flood
// the output. interval <= 0 returns l unchanged.
func Sampled(l Logger, interval time.Duration) Logger {
	if interval <= 0 {
		return l
	}
	return &sampledLogger{next: l, s: &rate.Sometimes{Interval: interval}}
}

func (s *sampledLogger) With(kv ...any) Logger {
	return &sampledLogger{next: s.next.With(kv...), s: s.s}
}

func (s *sampledLogger) Debug(ctx context.Context, msg string, kv ...any) {
	s.s.Do(func() { s.next.Debug(ctx, msg, kv...) })
}

func (s *sampledLogger) Info(ctx context.Context, msg string, kv ...any) {
	s.s.Do(func() { s.next.Info(ctx, msg, kv...) })
}

func (s *sampledLogger) Warn(ctx context.Context, msg string, kv ...any) {
	s.s.Do(func() { s.next.Warn(ctx, msg, kv...) })
}

func (s *sampledLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	s.next.Error(ctx, err, msg, kv...)
}

func (s *sampledLogger) Sync() error { return s.next.Sync() }
