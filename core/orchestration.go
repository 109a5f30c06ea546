// Package orchestration ties the engine together: it pumps conditioned
// microphone audio into a full-duplex speech session, plays the streamed
// response, and lets the user cut the assistant off mid-sentence.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/koscakluka/aura-core/core/activation"
	"github.com/koscakluka/aura-core/core/preprocessing"
	"github.com/koscakluka/aura-core/core/speechsession"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Raw mic energy above this level, sustained, counts as the user
	// talking over the assistant.
	bargeInRMSLevel    = 0.04
	bargeInChunkStreak = 4
)

type Orchestrator struct {
	device    AudioDevice
	session   speechsession.Session
	activator activation.Activator

	activationMode     activation.Mode
	activationOpts     []activation.BuildOption
	continuousFallback bool

	preprocessor     *preprocessing.Preprocessor
	preprocessingOff bool

	stateMu sync.Mutex
	state   State

	// forwarding gates whether capture chunks are sent upstream; it tracks
	// listening start/end events, not the visible state.
	forwarding  atomic.Bool
	interrupted atomic.Bool

	turns turnLog

	orchestrateOptions OrchestrateOptions
	baseContext        context.Context
	endRun             context.CancelFunc
	endOnce            sync.Once
	closeOnce          sync.Once
}

func New(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		state:          StateListening,
		activationMode: activation.ModeContinuous,
		baseContext:    context.Background(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Orchestrate runs the conversation until the activation strategy requests
// exit, the context is cancelled, or the session fails. It blocks for the
// lifetime of the conversation and tears the orchestrator down on return.
//
// Contract: call Orchestrate at most once per orchestrator instance.
func (o *Orchestrator) Orchestrate(ctx context.Context, opts ...OrchestrateOption) error {
	if o.device == nil {
		return fmt.Errorf("no audio device configured")
	}
	if o.session == nil {
		return fmt.Errorf("no speech session configured")
	}

	o.orchestrateOptions = OrchestrateOptions{}
	for _, opt := range opts {
		opt(&o.orchestrateOptions)
	}

	ctx, span := tracer.Start(ctx, "orchestrate conversation",
		trace.WithAttributes(attribute.String("activation.mode", string(o.activationMode))))
	defer span.End()
	defer o.Close()

	if o.preprocessor == nil && !o.preprocessingOff {
		o.preprocessor = preprocessing.New(o.device.CaptureEncodingInfo().SampleRate)
	}

	if err := o.startActivator(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.baseContext = runCtx
	o.endRun = cancel

	if err := o.device.StartCapture(runCtx); err != nil {
		recordedErr := fmt.Errorf("failed to start audio capture: %w", err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		return recordedErr
	}

	var (
		firstErr error
		errMu    sync.Mutex
	)
	run := func(wg *sync.WaitGroup, worker workerRun) {
		defer wg.Done()
		if err := worker(runCtx); err != nil {
			errMu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			errMu.Unlock()
			cancel()
		}
	}

	wg := &sync.WaitGroup{}
	wg.Add(2)
	go run(wg, panicSafeNamedWorker("forwarding", o.forwardLoop))
	go run(wg, panicSafeNamedWorker("receiving", o.receiveLoop))
	wg.Wait()

	if firstErr != nil {
		span.RecordError(firstErr)
		span.SetStatus(codes.Error, firstErr.Error())
		return firstErr
	}
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return nil
}

func (o *Orchestrator) startActivator(ctx context.Context) error {
	if o.activator == nil {
		activator, err := activation.Build(o.activationMode, o.activationOpts...)
		if err != nil {
			return err
		}
		o.activator = activator
	}

	err := o.activator.Start(ctx)
	if err == nil {
		return nil
	}

	if errors.Is(err, activation.ErrResourceUnavailable) && o.continuousFallback {
		log.Printf("Activation strategy unavailable, falling back to continuous listening: %v", err)
		o.activationMode = activation.ModeContinuous
		o.activator = activation.NewContinuous()
		return o.activator.Start(ctx)
	}

	return fmt.Errorf("failed to start activation: %w", err)
}

// State returns the current conversation state.
func (o *Orchestrator) State() State {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(state State) {
	o.stateMu.Lock()
	if o.state == state || o.state == StateEnded {
		o.stateMu.Unlock()
		return
	}
	o.state = state
	callback := o.orchestrateOptions.onStateChanged
	o.stateMu.Unlock()

	if callback != nil {
		callback(state)
	}
}

// Conversation returns a point-in-time snapshot of the turn history.
func (o *Orchestrator) Conversation() Conversation {
	return o.turns.snapshot()
}

// interruptTurn cuts the assistant off: upstream sends are dropped, queued
// playback is discarded, and the engine goes back to listening. Repeated
// calls while a turn is already interrupted are no-ops.
func (o *Orchestrator) interruptTurn() {
	if !o.interrupted.CompareAndSwap(false, true) {
		return
	}

	o.session.Interrupt()
	o.device.Clear()
	o.turns.endTurn(true)
	o.setState(StateListening)

	if callback := o.orchestrateOptions.onInterruption; callback != nil {
		callback()
	}
}

func (o *Orchestrator) handleActivationEvent(event activation.Event) {
	switch event {
	case activation.EventListeningStart:
		o.interrupted.Store(false)
		o.session.ClearInterrupt()
		o.forwarding.Store(true)
		o.setState(StateListening)

	case activation.EventListeningEnd:
		o.forwarding.Store(false)
		if err := o.session.EndTurn(); err != nil {
			log.Println("Failed to signal end of turn", "error", err)
		}
		o.setState(StateThinking)

	case activation.EventInterrupted:
		o.interruptTurn()

	case activation.EventExit:
		o.end()
	}
}

func (o *Orchestrator) end() {
	o.endOnce.Do(func() {
		o.stateMu.Lock()
		o.state = StateEnded
		o.stateMu.Unlock()

		o.forwarding.Store(false)
		if o.endRun != nil {
			o.endRun()
		}

		if callback := o.orchestrateOptions.onCancellation; callback != nil {
			callback()
		}
	})
}

func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.end()

		if o.activator != nil {
			if err := o.activator.Stop(); err != nil {
				recordedErr := fmt.Errorf("failed to stop activation: %w", err)
				span := trace.SpanFromContext(o.baseContext)
				span.RecordError(recordedErr)
				span.SetStatus(codes.Error, recordedErr.Error())
			}
		}

		if o.session != nil {
			if err := o.session.Close(); err != nil {
				recordedErr := fmt.Errorf("failed to close speech session: %w", err)
				span := trace.SpanFromContext(o.baseContext)
				span.RecordError(recordedErr)
				span.SetStatus(codes.Error, recordedErr.Error())
			}
		}

		if o.device != nil {
			o.device.Close()
		}
	})
}
