package gemini

import (
	"context"
	"sync"

	"github.com/koscakluka/aura-core/core/speechsession"
)

// partQueue buffers decoded response parts between the read loop and
// Receive. It is unbounded so a stalled consumer never blocks the socket,
// and a failure becomes the terminal item.
type partQueue struct {
	mu           sync.Mutex
	parts        []speechsession.ResponsePart
	err          error
	updateSignal chan struct{}
}

func newPartQueue() *partQueue {
	return &partQueue{updateSignal: make(chan struct{}, 1)}
}

func (q *partQueue) push(part speechsession.ResponsePart) {
	q.mu.Lock()
	q.parts = append(q.parts, part)
	q.mu.Unlock()

	q.signalUpdate()
}

func (q *partQueue) fail(err error) {
	q.mu.Lock()
	if q.err == nil {
		q.err = err
	}
	q.mu.Unlock()

	q.signalUpdate()
}

func (q *partQueue) pop(ctx context.Context) (speechsession.ResponsePart, error) {
	for {
		q.mu.Lock()
		if len(q.parts) > 0 {
			part := q.parts[0]
			q.parts = q.parts[1:]
			q.mu.Unlock()
			return part, nil
		}
		err := q.err
		q.mu.Unlock()

		if err != nil {
			return speechsession.ResponsePart{}, err
		}

		select {
		case <-q.updateSignal:
		case <-ctx.Done():
			return speechsession.ResponsePart{}, ctx.Err()
		}
	}
}

func (q *partQueue) signalUpdate() {
	select {
	case q.updateSignal <- struct{}{}:
	default:
	}
}
