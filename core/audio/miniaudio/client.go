package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/aura-core/core/audio"
)

// Client owns a malgo context and the capture and playback devices built on
// it. Capture produces fixed 100ms chunks through a lossless queue, playback
// drains an interruptible queue in order.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext

	captureClient
	playbackClient
}

type clientOptions struct {
	captureEncoding  audio.EncodingInfo
	playbackEncoding audio.EncodingInfo
}

type ClientOption func(*clientOptions)

func WithCaptureEncoding(encoding audio.EncodingInfo) ClientOption {
	return func(o *clientOptions) { o.captureEncoding = encoding }
}

func WithPlaybackEncoding(encoding audio.EncodingInfo) ClientOption {
	return func(o *clientOptions) { o.playbackEncoding = encoding }
}

func NewClient(opts ...ClientOption) (*Client, error) {
	options := clientOptions{
		captureEncoding:  audio.GetDefaultEncodingInfo(),
		playbackEncoding: audio.GetDefaultPlaybackEncodingInfo(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {})
	if err != nil {
		return nil, fmt.Errorf("%w: malgo context init failed: %v", audio.ErrDeviceUnavailable, err)
	}

	client := Client{audioContext: audioCtx}

	if err := client.captureClient.Init(audioCtx, options.captureEncoding); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}

	if err := client.playbackClient.Init(audioCtx, options.playbackEncoding); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}

	if err := client.playbackClient.Start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}

	return &client, nil
}

// StartCapture starts the microphone. Chunks accumulate in the capture queue
// until pulled with NextChunk.
func (c *Client) StartCapture(_ context.Context) error {
	return c.captureClient.Start()
}

func (c *Client) StopCapture() error {
	return c.captureClient.Stop()
}

// NextChunk blocks until a full 100ms capture chunk is available.
func (c *Client) NextChunk(ctx context.Context) ([]byte, error) {
	return c.captureClient.Next(ctx)
}

// Enqueue appends audio to the playback queue without blocking.
func (c *Client) Enqueue(audio []byte) error {
	return c.playbackClient.Enqueue(audio)
}

// Clear discards all queued playback audio.
func (c *Client) Clear() {
	c.playbackClient.Clear()
}

// Drain blocks until queued playback audio has been handed to the device or
// the context is cancelled.
func (c *Client) Drain(ctx context.Context) error {
	return c.playbackClient.Drain(ctx)
}

func (c *Client) Close() {
	_ = c.captureClient.Uninit()
	_ = c.playbackClient.Uninit()
	_ = c.audioContext.Uninit()
	c.audioContext.Free()
}

func (c *Client) CaptureEncodingInfo() audio.EncodingInfo {
	return c.captureClient.encoding
}

func (c *Client) PlaybackEncodingInfo() audio.EncodingInfo {
	return c.playbackClient.encoding
}
