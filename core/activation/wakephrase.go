package activation

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/koscakluka/aura-core/core/audio"
)

const (
	DefaultWakeThreshold = 0.5

	// A turn ends after this many consecutive near-silent chunks.
	silenceChunkLimit = 15
	silenceRMSLevel   = 0.02
)

// Scorer estimates how likely it is that the wake phrase was just spoken,
// given the latest capture chunk. Reset clears any per-phrase state after a
// detection so the next score starts fresh.
type Scorer interface {
	Score(chunk []byte) (float64, error)
	Reset()
}

// WakePhrase waits for the wake phrase, opens a turn when the scorer fires,
// and closes it again after sustained silence.
type WakePhrase struct {
	scorer    Scorer
	threshold float64
	queue     *eventQueue

	mu           sync.Mutex
	started      bool
	activeTurn   bool
	silentChunks int
}

type WakePhraseOption func(*WakePhrase)

func WakeThreshold(threshold float64) WakePhraseOption {
	return func(a *WakePhrase) { a.threshold = threshold }
}

func NewWakePhrase(scorer Scorer, opts ...WakePhraseOption) *WakePhrase {
	a := &WakePhrase{
		scorer:    scorer,
		threshold: DefaultWakeThreshold,
		queue:     newEventQueue(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *WakePhrase) Start(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.scorer == nil {
		return fmt.Errorf("%w: no wake phrase scorer", ErrResourceUnavailable)
	}
	a.started = true
	return nil
}

// Feed drives the detection state machine with raw capture audio.
func (a *WakePhrase) Feed(chunk []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return
	}

	if !a.activeTurn {
		score, err := a.scorer.Score(chunk)
		if err != nil {
			log.Printf("Wake phrase scoring failed: %v", err)
			return
		}
		if score >= a.threshold {
			a.scorer.Reset()
			a.activeTurn = true
			a.silentChunks = 0
			a.queue.push(EventListeningStart)
		}
		return
	}

	if audio.RMS(chunk) < silenceRMSLevel {
		a.silentChunks++
		if a.silentChunks >= silenceChunkLimit {
			a.activeTurn = false
			a.silentChunks = 0
			a.queue.push(EventListeningEnd)
		}
	} else {
		a.silentChunks = 0
	}
}

func (a *WakePhrase) NextEvent(ctx context.Context) (Event, error) {
	return a.queue.pop(ctx)
}

func (a *WakePhrase) TryNextEvent() (Event, bool) {
	return a.queue.tryPop()
}

func (a *WakePhrase) SignalInterrupted() {}

func (a *WakePhrase) Stop() error {
	a.mu.Lock()
	a.started = false
	a.mu.Unlock()
	a.queue.push(EventExit)
	return nil
}
