package stream

import (
	"sync"
	"time"
)

// Frame is one opaque encoded image payload received from the producer,
// stamped with its receive time. The payload is never inspected at this
// layer; decoding is the display consumer's concern.
type Frame struct {
	Data      []byte
	Timestamp time.Time
}

// Queue is the capacity-1 hand-off buffer between the receive loop and the
// display consumer. It favors recency over completeness: pushing onto an
// occupied slot discards the old frame, and both Push and TryPop return
// immediately. An empty queue is a normal condition, not an error.
type Queue struct {
	mu    sync.Mutex
	frame *Frame // nil = consumed, non-nil = undrained

	totalPushed  uint64
	totalDropped uint64
}

// NewQueue creates an empty hand-off queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push stores a frame in the slot without blocking. If the previous frame
// has not been consumed it is discarded to make room for the new one; the
// return value reports whether that eviction happened.
func (q *Queue) Push(frame Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := q.frame != nil
	if evicted {
		q.totalDropped++
	}
	q.frame = &frame
	q.totalPushed++
	return evicted
}

// TryPop returns the newest undrained frame, if any. It never blocks; the
// second return value reports whether a frame was available.
func (q *Queue) TryPop() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.frame == nil {
		return Frame{}, false
	}

	frame := *q.frame
	q.frame = nil
	return frame, true
}

// Len reports whether the slot currently holds an undrained frame (0 or 1).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.frame == nil {
		return 0
	}
	return 1
}

// Pushed returns the lifetime count of frames pushed into the queue.
func (q *Queue) Pushed() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalPushed
}

// Dropped returns the lifetime count of frames evicted unconsumed.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalDropped
}
