package orchestration

import (
	"context"

	"github.com/koscakluka/aura-core/core/activation"
	"github.com/koscakluka/aura-core/core/audio"
	"github.com/koscakluka/aura-core/core/preprocessing"
	"github.com/koscakluka/aura-core/core/speechsession"
)

type OrchestratorOption func(*Orchestrator)

// AudioDevice is the transport the orchestrator captures from and plays
// through. Both the miniaudio and portaudio clients satisfy it.
type AudioDevice interface {
	StartCapture(ctx context.Context) error
	StopCapture() error
	// NextChunk blocks until a full capture chunk is available. A nil chunk
	// with a nil error means capture has shut down.
	NextChunk(ctx context.Context) ([]byte, error)

	Enqueue(audio []byte) error
	Clear()
	Drain(ctx context.Context) error

	Close()
	CaptureEncodingInfo() audio.EncodingInfo
	PlaybackEncodingInfo() audio.EncodingInfo
}

func WithAudioDevice(device AudioDevice) OrchestratorOption {
	return func(o *Orchestrator) { o.device = device }
}

func WithSpeechSession(session speechsession.Session) OrchestratorOption {
	return func(o *Orchestrator) { o.session = session }
}

func WithActivator(activator activation.Activator) OrchestratorOption {
	return func(o *Orchestrator) { o.activator = activator }
}

// WithActivationMode builds the activator for the mode when Orchestrate
// starts. Ignored if WithActivator was given.
func WithActivationMode(mode activation.Mode, opts ...activation.BuildOption) OrchestratorOption {
	return func(o *Orchestrator) {
		o.activationMode = mode
		o.activationOpts = opts
	}
}

// WithContinuousFallback makes the orchestrator fall back to continuous
// listening when the chosen activation strategy cannot acquire its
// collaborator (no key listener, no wake scorer).
func WithContinuousFallback() OrchestratorOption {
	return func(o *Orchestrator) { o.continuousFallback = true }
}

func WithPreprocessor(preprocessor *preprocessing.Preprocessor) OrchestratorOption {
	return func(o *Orchestrator) { o.preprocessor = preprocessor }
}

// WithoutPreprocessing forwards raw capture audio, skipping the conditioning
// pipeline entirely.
func WithoutPreprocessing() OrchestratorOption {
	return func(o *Orchestrator) {
		o.preprocessor = nil
		o.preprocessingOff = true
	}
}

type OrchestrateOptions struct {
	onResponseText func(text string)
	onStateChanged func(state State)
	onInputLevel   func(level float64)
	onAudio        func(audio []byte)
	onInterruption func()
	onCancellation func()
}

type OrchestrateOption func(*OrchestrateOptions)

// WithResponseTextCallback registers a callback for text increments of the
// assistant's response, in arrival order.
func WithResponseTextCallback(callback func(text string)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onResponseText = callback
	}
}

func WithStateChangedCallback(callback func(state State)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onStateChanged = callback
	}
}

// WithInputLevelCallback registers a callback for the RMS level of each raw
// capture chunk. It runs inline on the forwarding path and should not block.
func WithInputLevelCallback(callback func(level float64)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onInputLevel = callback
	}
}

// WithAudioCallback registers a callback for response audio as it is queued
// for playback. The slice is passed through without a defensive copy.
func WithAudioCallback(callback func(audio []byte)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onAudio = callback
	}
}

// WithInterruptionCallback registers a callback for barge-ins and
// server-side interruptions.
func WithInterruptionCallback(callback func()) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onInterruption = callback
	}
}

func WithCancellationCallback(callback func()) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onCancellation = callback
	}
}
