// Package ringbuf is a fixed-capacity overwriting circular buffer.
//
// The buffer is never "empty": every slot holds a value from construction on,
// so Oldest is always defined. It is not safe for concurrent use, callers
// serialize access themselves.
package ringbuf

import (
	"errors"

	"github.com/keithlinneman/linnemanlabs-throttle/internal/xerrors"
)

// ErrInvalidCapacity is returned by New when capacity is below 1.
var ErrInvalidCapacity = errors.New("ringbuf: capacity must be >= 1")

// Buffer holds the last Cap() recorded values.
type Buffer[T any] struct {
	slots []T
	// cursor points at the next slot to be overwritten, which is also the
	// least recently written one
	cursor int
}

// New allocates a buffer of the given capacity with every slot set to fill.
func New[T any](capacity int, fill T) (*Buffer[T], error) {
	if capacity < 1 {
		return nil, xerrors.Wrapf(ErrInvalidCapacity, "capacity=%d", capacity)
	}
	slots := make([]T, capacity)
	for i := range slots {
		slots[i] = fill
	}
	return &Buffer[T]{slots: slots}, nil
}

// Record overwrites the oldest slot with v and advances the cursor.
func (b *Buffer[T]) Record(v T) {
	b.slots[b.cursor] = v
	b.cursor = (b.cursor + 1) % len(b.slots)
}

// Oldest returns the least recently written value without mutating the buffer.
func (b *Buffer[T]) Oldest() T {
	return b.slots[b.cursor]
}

// Cap is the fixed number of slots.
func (b *Buffer[T]) Cap() int { return len(b.slots) }
