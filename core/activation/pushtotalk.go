package activation

import (
	"context"
	"fmt"
	"sync"
)

type KeyEvent int

const (
	KeyDown KeyEvent = iota
	KeyUp
	KeyExit
)

// KeyListener delivers events for the push-to-talk key. NextKey blocks until
// the next key event; an error ends the listening loop.
type KeyListener interface {
	NextKey(ctx context.Context) (KeyEvent, error)
	Close() error
}

// PushToTalk opens the microphone while a key is held. Repeated key-down
// events while the key is already held are ignored, so auto-repeat does not
// produce duplicate turns.
type PushToTalk struct {
	listener KeyListener
	queue    *eventQueue

	holding bool

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

func NewPushToTalk(listener KeyListener) *PushToTalk {
	return &PushToTalk{listener: listener, queue: newEventQueue()}
}

func (a *PushToTalk) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.listener == nil {
		return fmt.Errorf("%w: no key listener", ErrResourceUnavailable)
	}
	if a.cancel != nil {
		return nil
	}

	listenCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.listen(listenCtx)
	return nil
}

func (a *PushToTalk) listen(ctx context.Context) {
	defer close(a.done)
	for {
		key, err := a.listener.NextKey(ctx)
		if err != nil {
			if ctx.Err() == nil {
				a.queue.push(EventExit)
			}
			return
		}

		switch key {
		case KeyDown:
			a.mu.Lock()
			if !a.holding {
				a.holding = true
				a.queue.push(EventListeningStart)
			}
			a.mu.Unlock()
		case KeyUp:
			a.mu.Lock()
			if a.holding {
				a.holding = false
				a.queue.push(EventListeningEnd)
			}
			a.mu.Unlock()
		case KeyExit:
			a.queue.push(EventExit)
			return
		}
	}
}

func (a *PushToTalk) NextEvent(ctx context.Context) (Event, error) {
	return a.queue.pop(ctx)
}

func (a *PushToTalk) TryNextEvent() (Event, bool) {
	return a.queue.tryPop()
}

func (a *PushToTalk) SignalInterrupted() {}

func (a *PushToTalk) Feed([]byte) {}

func (a *PushToTalk) Stop() error {
	a.mu.Lock()
	cancel := a.cancel
	done := a.done
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if a.listener != nil {
		return a.listener.Close()
	}
	return nil
}
