// Package activation decides when the engine is listening to the user.
// Three strategies are provided: continuous listening, push-to-talk, and
// wake-phrase detection. All of them emit the same ordered event stream.
package activation

import (
	"context"
	"errors"
	"fmt"
)

type Mode string

const (
	ModeContinuous Mode = "continuous"
	ModePushToTalk Mode = "push-to-talk"
	ModeWakePhrase Mode = "wake-phrase"
)

type Event string

const (
	EventListeningStart Event = "listening-start"
	EventListeningEnd   Event = "listening-end"
	EventInterrupted    Event = "interrupted"
	EventExit           Event = "exit"
)

// ErrResourceUnavailable is returned from Start when a strategy's required
// collaborator (key listener, wake scorer) is missing or cannot be opened.
var ErrResourceUnavailable = errors.New("activation resource unavailable")

// Activator produces activation events in the order they happen. Events are
// buffered without bound, so a slow consumer loses nothing.
type Activator interface {
	Start(ctx context.Context) error
	// NextEvent blocks until an event is available.
	NextEvent(ctx context.Context) (Event, error)
	// TryNextEvent returns the oldest pending event without blocking.
	TryNextEvent() (Event, bool)
	// SignalInterrupted tells the activator the assistant's speech was cut
	// off. Only continuous listening reacts to it.
	SignalInterrupted()
	// Feed offers a raw capture chunk to strategies that watch the audio.
	Feed(chunk []byte)
	Stop() error
}

type buildOptions struct {
	keyListener   KeyListener
	scorer        Scorer
	wakeThreshold float64
}

type BuildOption func(*buildOptions)

func WithKeyListener(l KeyListener) BuildOption {
	return func(o *buildOptions) { o.keyListener = l }
}

func WithScorer(s Scorer) BuildOption {
	return func(o *buildOptions) { o.scorer = s }
}

func WithWakeThreshold(threshold float64) BuildOption {
	return func(o *buildOptions) { o.wakeThreshold = threshold }
}

// Build constructs the activator for a mode.
func Build(mode Mode, opts ...BuildOption) (Activator, error) {
	options := buildOptions{wakeThreshold: DefaultWakeThreshold}
	for _, opt := range opts {
		opt(&options)
	}

	switch mode {
	case ModeContinuous:
		return NewContinuous(), nil
	case ModePushToTalk:
		return NewPushToTalk(options.keyListener), nil
	case ModeWakePhrase:
		scorer := options.scorer
		if scorer == nil {
			scorer = NewEnergyScorer()
		}
		return NewWakePhrase(scorer, WakeThreshold(options.wakeThreshold)), nil
	}
	return nil, fmt.Errorf("unknown activation mode %q", mode)
}
