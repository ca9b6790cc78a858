// Package preview produces the annotated JPEG feed of a live session.
package preview

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrTimeout is returned by Next when no frame arrived in time
	ErrTimeout = errors.New("no preview frame available")
	// ErrClosed is returned by Next once the queue is closed and drained
	ErrClosed = errors.New("preview queue closed")
)

// DefaultCapacity is the number of frames a queue holds before the oldest
// is dropped
const DefaultCapacity = 2

// Queue is a bounded frame queue that drops the oldest frame when full.
// Push never blocks, so a slow viewer cannot stall counting.
type Queue struct {
	frames  chan []byte
	done    chan struct{}
	once    sync.Once
	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewQueue creates a queue holding up to capacity frames
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		frames: make(chan []byte, capacity),
		done:   make(chan struct{}),
	}
}

// Push adds a frame, evicting the oldest one when the queue is full.
// Frames pushed after Close are discarded.
func (q *Queue) Push(frame []byte) {
	select {
	case <-q.done:
		return
	default:
	}

	q.pushed.Add(1)
	for {
		select {
		case q.frames <- frame:
			return
		default:
		}
		select {
		case <-q.frames:
			q.dropped.Add(1)
		default:
		}
	}
}

// Next waits up to timeout for the next frame
func (q *Queue) Next(ctx context.Context, timeout time.Duration) ([]byte, error) {
	// Frames already queued are served even after Close.
	select {
	case frame := <-q.frames:
		return frame, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame := <-q.frames:
		return frame, nil
	case <-q.done:
		return nil, ErrClosed
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close wakes all waiting readers. It is safe to call more than once.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}

// Len returns the number of queued frames
func (q *Queue) Len() int {
	return len(q.frames)
}

// Cap returns the queue capacity
func (q *Queue) Cap() int {
	return cap(q.frames)
}

// Pushed returns the number of frames pushed so far
func (q *Queue) Pushed() uint64 {
	return q.pushed.Load()
}

// Dropped returns the number of frames evicted unread
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
