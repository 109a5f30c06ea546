package audio

import (
	"context"
	"sync"
)

// ChunkQueue is an unbounded queue of audio chunks with a blocking consumer
// side. Capture callbacks push from the device thread, the forwarding loop
// pulls with Next. Chunks come out in the order they went in and none are
// dropped under backpressure.
type ChunkQueue struct {
	mu           sync.Mutex
	chunks       [][]byte
	updateSignal chan struct{}
	closed       bool
}

func NewChunkQueue() *ChunkQueue {
	return &ChunkQueue{updateSignal: make(chan struct{}, 1)}
}

// Push appends a chunk. It never blocks and is safe to call from an audio
// device callback.
func (q *ChunkQueue) Push(chunk []byte) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.chunks = append(q.chunks, chunk)
	q.mu.Unlock()

	q.signalUpdate()
}

// Next removes and returns the oldest chunk, blocking until one is available,
// the queue is closed, or the context is cancelled. It returns nil after
// Close once the queue is exhausted.
func (q *ChunkQueue) Next(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.chunks) > 0 {
			chunk := q.chunks[0]
			q.chunks = q.chunks[1:]
			q.mu.Unlock()
			return chunk, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, nil
		}

		select {
		case <-q.updateSignal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len reports how many chunks are queued.
func (q *ChunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// Close marks the queue as finished. Queued chunks remain readable; once
// exhausted, Next returns nil.
func (q *ChunkQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signalUpdate()
}

func (q *ChunkQueue) signalUpdate() {
	select {
	case q.updateSignal <- struct{}{}:
	default:
	}
}
