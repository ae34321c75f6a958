package httpmw

import (
	"context"
	"sync"

	"github.com/keithlinneman/linnemanlabs-throttle/internal/log"
)

type capturedLog struct {
	msg    string
	err    error
	fields []any
}

// captureLogger records With, Info and Error calls in one place.
// With returns the same logger so fields from every layer are visible.
type captureLogger struct {
	mu     sync.Mutex
	withs  [][]any
	infos  []capturedLog
	errors []capturedLog
}

func (l *captureLogger) With(kv ...any) log.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.withs = append(l.withs, kv)
	return l
}

func (l *captureLogger) Debug(context.Context, string, ...any) {}
func (l *captureLogger) Warn(context.Context, string, ...any)  {}

func (l *captureLogger) Info(_ context.Context, msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, capturedLog{msg: msg, fields: kv})
}

func (l *captureLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, capturedLog{msg: msg, err: err, fields: kv})
}

func (l *captureLogger) Sync() error { return nil }

func (l *captureLogger) infoCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.infos)
}

func (l *captureLogger) lastInfo() (capturedLog, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.infos) == 0 {
		return capturedLog{}, false
	}
	return l.infos[len(l.infos)-1], true
}

func (l *captureLogger) lastError() (capturedLog, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.errors) == 0 {
		return capturedLog{}, false
	}
	return l.errors[len(l.errors)-1], true
}

// withValue finds key in any With call.
func (l *captureLogger) withValue(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, kv := range l.withs {
		if v, ok := fieldValue(kv, key); ok {
			return v, true
		}
	}
	return nil, false
}

func fieldValue(fields []any, key string) (any, bool) {
	for i := 0; i+1 < len(fields); i += 2 {
		if k, ok := fields[i].(string); ok && k == key {
			return fields[i+1], true
		}
	}
	return nil, false
}
