package activation

import (
	"context"
	"sync/atomic"
)

// Continuous keeps the engine listening for the whole session. It emits a
// single listening start and thereafter only reports interruptions.
type Continuous struct {
	queue   *eventQueue
	started atomic.Bool
}

func NewContinuous() *Continuous {
	return &Continuous{queue: newEventQueue()}
}

func (a *Continuous) Start(context.Context) error {
	if a.started.CompareAndSwap(false, true) {
		a.queue.push(EventListeningStart)
	}
	return nil
}

func (a *Continuous) NextEvent(ctx context.Context) (Event, error) {
	return a.queue.pop(ctx)
}

func (a *Continuous) TryNextEvent() (Event, bool) {
	return a.queue.tryPop()
}

func (a *Continuous) SignalInterrupted() {
	if a.started.Load() {
		a.queue.push(EventInterrupted)
	}
}

func (a *Continuous) Feed([]byte) {}

func (a *Continuous) Stop() error {
	a.queue.push(EventExit)
	return nil
}
