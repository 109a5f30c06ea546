// Package gemini implements the speech session contract against the Gemini
// Live API over a raw websocket.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"iter"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/aura-core/core/audio"
	"github.com/koscakluka/aura-core/core/speechsession"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	liveEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	DefaultModel = "models/gemini-2.0-flash-live-001"
	DefaultVoice = "Puck"
)

// Prebuilt voices accepted by the Live API.
const (
	VoicePuck   = "Puck"
	VoiceKore   = "Kore"
	VoiceAoede  = "Aoede"
	VoiceCharon = "Charon"
	VoiceFenrir = "Fenrir"
)

const defaultSystemPrompt = "You are a capable, understated voice assistant " +
	"in the spirit of J.A.R.V.I.S. Your replies are spoken aloud, so keep " +
	"them short, natural and free of markup. Be direct and dryly witty when " +
	"it fits, and never narrate your own reasoning."

// Client is a live full-duplex session with the Gemini Live API. It
// implements speechsession.Session.
type Client struct {
	conn   *websocket.Conn
	connMu sync.Mutex

	options speechsession.Options

	interrupted atomic.Bool
	closed      atomic.Bool
	closeOnce   sync.Once

	parts *partQueue
}

// NewClient dials the Live API and completes session setup. The API key is
// taken from GEMINI_API_KEY, falling back to GOOGLE_API_KEY.
func NewClient(ctx context.Context, opts ...speechsession.Option) (*Client, error) {
	options := speechsession.Options{
		Model:          DefaultModel,
		Voice:          DefaultVoice,
		SystemPrompt:   defaultSystemPrompt,
		InputEncoding:  audio.GetDefaultEncodingInfo(),
		OutputEncoding: audio.GetDefaultPlaybackEncodingInfo(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	apiKey, ok := os.LookupEnv("GEMINI_API_KEY")
	if !ok || apiKey == "" {
		apiKey, _ = os.LookupEnv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key not found", speechsession.ErrConfiguration)
	}

	model := options.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	ctx, span := tracer.Start(ctx, "open gemini live session",
		trace.WithAttributes(attribute.String("gemini.model", model)))
	defer span.End()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, liveEndpoint+"?key="+apiKey, nil)
	if err != nil {
		recordedErr := fmt.Errorf("%w: failed to open socket connection to gemini: %v", speechsession.ErrProtocol, err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		return nil, recordedErr
	}

	client := &Client{
		conn:    conn,
		options: options,
		parts:   newPartQueue(),
	}

	if err := client.setup(model); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		conn.Close()
		return nil, err
	}

	go client.readAndProcessMessages(conn)

	return client, nil
}

func (c *Client) setup(model string) error {
	setup := setupMessage{Setup: setupPayload{
		Model: model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: speechConfig{
				VoiceConfig: voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: c.options.Voice},
				},
			},
		},
	}}
	if c.options.SystemPrompt != "" {
		setup.Setup.SystemInstruction = &systemInstruction{
			Parts: []textPart{{Text: c.options.SystemPrompt}},
		}
	}

	if err := c.conn.WriteJSON(setup); err != nil {
		return fmt.Errorf("%w: failed to send session setup: %v", speechsession.ErrProtocol, err)
	}

	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: failed to read setup response: %v", speechsession.ErrProtocol, err)
	}

	var parsed serverMessage
	if err := json.Unmarshal(msg, &parsed); err != nil || parsed.SetupComplete == nil {
		return fmt.Errorf("%w: session setup was not acknowledged", speechsession.ErrProtocol)
	}

	return nil
}

// SendAudio streams one chunk of conditioned audio upstream. While the
// session is interrupted the chunk is silently discarded.
func (c *Client) SendAudio(chunk []byte) error {
	if c.interrupted.Load() || c.closed.Load() {
		return nil
	}

	msg := realtimeInputMessage{RealtimeInput: realtimeInput{
		Audio: &audioBlob{
			MimeType: fmt.Sprintf("audio/pcm;rate=%d", c.options.InputEncoding.SampleRate),
			Data:     base64.StdEncoding.EncodeToString(chunk),
		},
	}}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: failed to write audio to gemini: %v", speechsession.ErrProtocol, err)
	}
	return nil
}

// EndTurn signals that no more audio is coming for the current turn.
func (c *Client) EndTurn() error {
	if c.closed.Load() {
		return nil
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if err := c.conn.WriteJSON(realtimeInputMessage{
		RealtimeInput: realtimeInput{AudioStreamEnd: true},
	}); err != nil {
		return fmt.Errorf("%w: failed to end turn: %v", speechsession.ErrProtocol, err)
	}
	return nil
}

func (c *Client) Interrupt() {
	c.interrupted.Store(true)
}

func (c *Client) ClearInterrupt() {
	c.interrupted.Store(false)
}

// Receive yields response parts in arrival order and returns after a final
// part. Call it once per turn; parts arriving between calls are kept.
func (c *Client) Receive(ctx context.Context) iter.Seq2[speechsession.ResponsePart, error] {
	return func(yield func(speechsession.ResponsePart, error) bool) {
		for {
			part, err := c.parts.pop(ctx)
			if err != nil {
				yield(speechsession.ResponsePart{}, err)
				return
			}
			if !yield(part, nil) || part.Final {
				return
			}
		}
	}
}

func (c *Client) readAndProcessMessages(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.parts.fail(fmt.Errorf("%w: session closed", speechsession.ErrProtocol))
				return
			}
			c.parts.fail(fmt.Errorf("%w: failed to read gemini message: %v", speechsession.ErrProtocol, err))
			return
		}

		c.processMessage(msg)
	}
}

func (c *Client) processMessage(msg []byte) {
	var parsed serverMessage
	if err := json.Unmarshal(msg, &parsed); err != nil {
		log.Println("Failed to unmarshal gemini message", "error", err)
		return
	}

	if parsed.GoAway != nil {
		log.Println("Gemini session is about to be terminated by the server")
		return
	}

	content := parsed.ServerContent
	if content == nil {
		return
	}

	if content.Interrupted {
		// The server dropped the rest of the response; close out the turn.
		c.parts.push(speechsession.ResponsePart{Final: true})
		return
	}

	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part.InlineData != nil {
				decoded, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					log.Println("Failed to decode gemini audio payload", "error", err)
					continue
				}
				c.parts.push(speechsession.ResponsePart{Audio: decoded})
			}
			if part.Text != "" {
				c.parts.push(speechsession.ResponsePart{Text: part.Text})
			}
		}
	}

	if content.TurnComplete {
		c.parts.push(speechsession.ResponsePart{Final: true})
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.connMu.Lock()
		defer c.connMu.Unlock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = c.conn.Close()
	})
	return err
}
