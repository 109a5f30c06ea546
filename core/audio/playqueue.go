package audio

import (
	"context"
	"sync"
)

// PlayQueue is a device-independent playback buffer. Producers push ordered
// audio, a device callback pulls fixed-size slices, and an interruption can
// discard everything queued. Safe for concurrent use.
type PlayQueue struct {
	mu    sync.Mutex
	buf   []byte
	empty chan struct{}
}

func NewPlayQueue() *PlayQueue {
	empty := make(chan struct{})
	close(empty)
	return &PlayQueue{empty: empty}
}

// Push appends audio to the end of the queue.
func (q *PlayQueue) Push(audio []byte) {
	if len(audio) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		q.empty = make(chan struct{})
	}
	q.buf = append(q.buf, audio...)
}

// Pull removes and returns up to n bytes from the front of the queue. It
// returns nil when the queue is empty.
func (q *PlayQueue) Pull(n int) []byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.buf) == 0 || n <= 0 {
		return nil
	}
	if n > len(q.buf) {
		n = len(q.buf)
	}

	out := make([]byte, n)
	copy(out, q.buf[:n])
	q.buf = q.buf[n:]
	if len(q.buf) == 0 {
		q.buf = nil
		close(q.empty)
	}
	return out
}

// Clear discards all queued audio immediately.
func (q *PlayQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) > 0 {
		q.buf = nil
		close(q.empty)
	}
}

// Buffered reports how many bytes are queued.
func (q *PlayQueue) Buffered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Drain blocks until the queue is empty or the context is cancelled.
func (q *PlayQueue) Drain(ctx context.Context) error {
	q.mu.Lock()
	empty := q.empty
	q.mu.Unlock()

	select {
	case <-empty:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
