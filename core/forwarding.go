package orchestration

import (
	"context"
	"fmt"

	"github.com/koscakluka/aura-core/core/audio"
)

// forwardLoop pulls capture chunks and pushes them through activation,
// barge-in detection and the conditioning pipeline into the session. One
// chunk in, at most one chunk out, in order.
func (o *Orchestrator) forwardLoop(ctx context.Context) error {
	bargeInStreak := 0

	for {
		chunk, err := o.device.NextChunk(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("audio capture failed: %w", err)
		}
		if chunk == nil {
			return nil
		}

		level := audio.RMS(chunk)
		if callback := o.orchestrateOptions.onInputLevel; callback != nil {
			callback(level)
		}

		o.activator.Feed(chunk)
		for {
			event, ok := o.activator.TryNextEvent()
			if !ok {
				break
			}
			o.handleActivationEvent(event)
		}

		if o.State() == StateEnded {
			return nil
		}

		if o.State() == StateSpeaking {
			if level > bargeInRMSLevel {
				bargeInStreak++
				if bargeInStreak >= bargeInChunkStreak {
					bargeInStreak = 0
					o.interruptTurn()
					o.activator.SignalInterrupted()
				}
			} else {
				bargeInStreak = 0
			}
		} else {
			bargeInStreak = 0
		}

		if !o.forwarding.Load() {
			continue
		}

		outgoing := chunk
		if o.preprocessor != nil {
			outgoing = o.preprocessor.Process(chunk)
		}
		if err := o.session.SendAudio(outgoing); err != nil {
			return fmt.Errorf("failed to forward audio: %w", err)
		}
	}
}
