package activation

import (
	"context"
	"sync"
)

// eventQueue is an unbounded ordered queue of activation events. Producers
// never block and nothing is dropped.
type eventQueue struct {
	mu           sync.Mutex
	events       []Event
	updateSignal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{updateSignal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(event Event) {
	q.mu.Lock()
	q.events = append(q.events, event)
	q.mu.Unlock()

	select {
	case q.updateSignal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) tryPop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return "", false
	}
	event := q.events[0]
	q.events = q.events[1:]
	return event, true
}

func (q *eventQueue) pop(ctx context.Context) (Event, error) {
	for {
		if event, ok := q.tryPop(); ok {
			return event, nil
		}

		select {
		case <-q.updateSignal:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
