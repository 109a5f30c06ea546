package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// receiveLoop consumes response parts turn by turn: audio goes to playback,
// text to the conversation log, and a final part closes the turn out.
func (o *Orchestrator) receiveLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil || o.State() == StateEnded {
			return nil
		}

		for part, err := range o.session.Receive(ctx) {
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return nil
				}
				return fmt.Errorf("speech session failed: %w", err)
			}

			if part.Audio != nil && !o.interrupted.Load() {
				if o.State() != StateSpeaking {
					o.turns.beginTurn()
					o.setState(StateSpeaking)
				}
				if err := o.device.Enqueue(part.Audio); err != nil {
					log.Println("Failed to enqueue response audio", "error", err)
				}
				if callback := o.orchestrateOptions.onAudio; callback != nil {
					callback(part.Audio)
				}
			}

			if part.Text != "" && !o.interrupted.Load() {
				o.turns.appendText(part.Text)
				if callback := o.orchestrateOptions.onResponseText; callback != nil {
					callback(part.Text)
				}
			}

			if part.Final {
				o.finishTurn(ctx)
			}
		}
	}
}

func (o *Orchestrator) finishTurn(ctx context.Context) {
	wasInterrupted := o.interrupted.Swap(false)
	o.session.ClearInterrupt()
	o.turns.endTurn(wasInterrupted)

	if !wasInterrupted {
		// Let the queued tail of the response play out before flipping back
		// to listening.
		if err := o.device.Drain(ctx); err != nil && ctx.Err() == nil {
			log.Println("Failed to drain playback", "error", err)
		}
	}

	if state := o.State(); state == StateSpeaking || state == StateThinking {
		o.setState(StateListening)
	}
}
