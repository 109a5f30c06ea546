// Package speechsession defines the contract for a full-duplex speech
// session: caller streams audio up, provider streams an interleaved audio
// and text response back, and either side can cut a response short.
package speechsession

import (
	"context"
	"errors"
	"iter"

	"github.com/koscakluka/aura-core/core/audio"
)

var (
	// ErrProtocol covers sessions that failed to open or died mid-stream.
	ErrProtocol = errors.New("speech session protocol error")
	// ErrConfiguration covers missing credentials and invalid parameters,
	// detectable before any audio flows.
	ErrConfiguration = errors.New("speech session configuration error")
)

// ResponsePart is one increment of the assistant's response. Exactly one of
// Audio and Text is set. Final marks the end of the response, whether it ran
// to completion or was cut short.
type ResponsePart struct {
	Audio []byte
	Text  string
	Final bool
}

// Session is a live full-duplex exchange with a speech provider.
//
// SendAudio is a no-op while the session is interrupted. Receive yields
// response parts in arrival order and stops after a Final part; a session
// failure mid-response surfaces as a terminal error. Sessions are not
// reusable after Close.
type Session interface {
	SendAudio(audio []byte) error
	// EndTurn tells the provider no more audio is coming for this turn.
	EndTurn() error
	// Interrupt discards the in-flight response and drops audio sent until
	// ClearInterrupt. Safe to call at any time, from any goroutine.
	Interrupt()
	ClearInterrupt()
	Receive(ctx context.Context) iter.Seq2[ResponsePart, error]
	Close() error
}

type Options struct {
	Model          string
	Voice          string
	SystemPrompt   string
	InputEncoding  audio.EncodingInfo
	OutputEncoding audio.EncodingInfo
}

type Option func(*Options)

func WithModel(model string) Option {
	return func(o *Options) { o.Model = model }
}

func WithVoice(voice string) Option {
	return func(o *Options) { o.Voice = voice }
}

func WithSystemPrompt(prompt string) Option {
	return func(o *Options) { o.SystemPrompt = prompt }
}

func WithInputEncoding(encoding audio.EncodingInfo) Option {
	return func(o *Options) { o.InputEncoding = encoding }
}

func WithOutputEncoding(encoding audio.EncodingInfo) Option {
	return func(o *Options) { o.OutputEncoding = encoding }
}
