package orchestration

import (
	"context"
	"errors"
	"iter"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/aura-core/core/activation"
	"github.com/koscakluka/aura-core/core/audio"
	"github.com/koscakluka/aura-core/core/speechsession"
)

type fakeDevice struct {
	capture *audio.ChunkQueue

	mu     sync.Mutex
	played [][]byte
	clears atomic.Int32
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{capture: audio.NewChunkQueue()}
}

func (d *fakeDevice) StartCapture(context.Context) error { return nil }
func (d *fakeDevice) StopCapture() error                 { return nil }

func (d *fakeDevice) NextChunk(ctx context.Context) ([]byte, error) {
	return d.capture.Next(ctx)
}

func (d *fakeDevice) Enqueue(audio []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.played = append(d.played, audio)
	return nil
}

func (d *fakeDevice) Clear() {
	d.clears.Add(1)
	d.mu.Lock()
	d.played = nil
	d.mu.Unlock()
}

func (d *fakeDevice) Drain(context.Context) error { return nil }
func (d *fakeDevice) Close()                      { d.capture.Close() }

func (d *fakeDevice) CaptureEncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}

func (d *fakeDevice) PlaybackEncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultPlaybackEncodingInfo()
}

func (d *fakeDevice) playedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.played)
}

type sessionItem struct {
	part speechsession.ResponsePart
	err  error
}

type fakeSession struct {
	mu       sync.Mutex
	sent     [][]byte
	endTurns int

	interrupts atomic.Int32
	clears     atomic.Int32

	items  chan sessionItem
	closed atomic.Bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{items: make(chan sessionItem, 64)}
}

func (s *fakeSession) SendAudio(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, audio)
	return nil
}

func (s *fakeSession) EndTurn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endTurns++
	return nil
}

func (s *fakeSession) Interrupt()      { s.interrupts.Add(1) }
func (s *fakeSession) ClearInterrupt() { s.clears.Add(1) }

func (s *fakeSession) Receive(ctx context.Context) iter.Seq2[speechsession.ResponsePart, error] {
	return func(yield func(speechsession.ResponsePart, error) bool) {
		for {
			select {
			case item := <-s.items:
				if item.err != nil {
					yield(speechsession.ResponsePart{}, item.err)
					return
				}
				if !yield(item.part, nil) || item.part.Final {
					return
				}
			case <-ctx.Done():
				yield(speechsession.ResponsePart{}, ctx.Err())
				return
			}
		}
	}
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *fakeSession) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *fakeSession) endTurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endTurns
}

func loudChunk() []byte {
	samples := make([]float64, 1600)
	for i := range samples {
		samples[i] = 0.3 * math.Sin(2*math.Pi*440*float64(i)/16000)
	}
	return audio.Bytes(samples)
}

func quietChunk() []byte {
	return make([]byte, 3200)
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type harness struct {
	orchestrator *Orchestrator
	device       *fakeDevice
	session      *fakeSession
	states       chan State
	done         chan error
	cancel       context.CancelFunc
}

func startHarness(t *testing.T, orchestratorOpts []OrchestratorOption, opts ...OrchestrateOption) *harness {
	t.Helper()

	device := newFakeDevice()
	session := newFakeSession()
	states := make(chan State, 64)

	baseOpts := []OrchestratorOption{
		WithAudioDevice(device),
		WithSpeechSession(session),
		WithoutPreprocessing(),
	}
	o := New(append(baseOpts, orchestratorOpts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan error, 1)
	allOpts := append([]OrchestrateOption{
		WithStateChangedCallback(func(state State) { states <- state }),
	}, opts...)
	go func() { done <- o.Orchestrate(ctx, allOpts...) }()

	return &harness{orchestrator: o, device: device, session: session, states: states, done: done, cancel: cancel}
}

func (h *harness) awaitState(t *testing.T, expected State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case state := <-h.states:
			if state == expected {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q (current %q)", expected, h.orchestrator.State())
		}
	}
}

func (h *harness) finish(t *testing.T) error {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Orchestrate to return")
		return nil
	}
}

func TestOrchestrateRequiresDeviceAndSession(t *testing.T) {
	if err := New(WithSpeechSession(newFakeSession())).Orchestrate(context.Background()); err == nil {
		t.Fatal("expected an error without an audio device")
	}
	if err := New(WithAudioDevice(newFakeDevice())).Orchestrate(context.Background()); err == nil {
		t.Fatal("expected an error without a speech session")
	}
}

func TestContinuousTurnCycle(t *testing.T) {
	h := startHarness(t, nil)

	h.device.capture.Push(loudChunk())
	waitFor(t, "captured audio to be forwarded", func() bool { return h.session.sentCount() >= 1 })

	h.session.items <- sessionItem{part: speechsession.ResponsePart{Audio: []byte{1, 2}}}
	h.awaitState(t, StateSpeaking)
	waitFor(t, "response audio to reach playback", func() bool { return h.device.playedCount() == 1 })

	h.session.items <- sessionItem{part: speechsession.ResponsePart{Text: "All systems nominal."}}
	h.session.items <- sessionItem{part: speechsession.ResponsePart{Final: true}}
	h.awaitState(t, StateListening)

	conversation := h.orchestrator.Conversation()
	if len(conversation.Turns) != 1 {
		t.Fatalf("expected one logged turn, got %d", len(conversation.Turns))
	}
	if conversation.Turns[0].Text != "All systems nominal." || conversation.Turns[0].Interrupted {
		t.Fatalf("expected a completed turn with its text, got %+v", conversation.Turns[0])
	}

	if err := h.finish(t); err != nil {
		t.Fatalf("expected a clean shutdown, got %v", err)
	}
	if !h.session.closed.Load() {
		t.Fatal("expected the session to be closed on teardown")
	}
}

func TestBargeInInterruptsPlayback(t *testing.T) {
	h := startHarness(t, nil)

	h.session.items <- sessionItem{part: speechsession.ResponsePart{Audio: []byte{1, 2}}}
	h.awaitState(t, StateSpeaking)

	for i := 0; i < bargeInChunkStreak; i++ {
		h.device.capture.Push(loudChunk())
	}
	h.awaitState(t, StateListening)

	if n := h.session.interrupts.Load(); n != 1 {
		t.Fatalf("expected exactly one session interrupt, got %d", n)
	}
	if n := h.device.clears.Load(); n != 1 {
		t.Fatalf("expected playback cleared exactly once, got %d", n)
	}

	// A stale audio part arriving after the barge-in must not play.
	h.session.items <- sessionItem{part: speechsession.ResponsePart{Audio: []byte{3, 4}}}
	h.session.items <- sessionItem{part: speechsession.ResponsePart{Final: true}}
	waitFor(t, "the interrupted turn to close", func() bool {
		conversation := h.orchestrator.Conversation()
		return len(conversation.Turns) == 1 && conversation.Turns[0].Interrupted
	})
	if h.device.playedCount() != 0 {
		t.Fatal("expected no audio enqueued after the interruption")
	}

	h.finish(t)
}

func TestRepeatedInterruptionsAreIdempotent(t *testing.T) {
	h := startHarness(t, nil)

	h.session.items <- sessionItem{part: speechsession.ResponsePart{Audio: []byte{1}}}
	h.awaitState(t, StateSpeaking)

	for i := 0; i < bargeInChunkStreak; i++ {
		h.device.capture.Push(loudChunk())
	}
	h.awaitState(t, StateListening)

	// The activator's interrupted event arrives after the local barge-in
	// already ran; feeding more audio processes it without a second round.
	before := h.session.sentCount()
	for i := 0; i < bargeInChunkStreak; i++ {
		h.device.capture.Push(loudChunk())
	}
	waitFor(t, "the extra chunks to be processed", func() bool {
		return h.session.sentCount() >= before+bargeInChunkStreak
	})

	if n := h.session.interrupts.Load(); n != 1 {
		t.Fatalf("expected interruption to stay idempotent, got %d interrupts", n)
	}
	if n := h.device.clears.Load(); n != 1 {
		t.Fatalf("expected a single playback clear, got %d", n)
	}

	h.finish(t)
}

func TestSessionFailureEndsConversation(t *testing.T) {
	h := startHarness(t, nil)

	h.session.items <- sessionItem{err: speechsession.ErrProtocol}

	select {
	case err := <-h.done:
		if !errors.Is(err, speechsession.ErrProtocol) {
			t.Fatalf("expected the protocol error to surface, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Orchestrate to fail")
	}
}

func TestPushToTalkTurnLifecycle(t *testing.T) {
	listener := &stubKeyListener{keys: make(chan activation.KeyEvent, 8)}
	h := startHarness(t, []OrchestratorOption{
		WithActivationMode(activation.ModePushToTalk, activation.WithKeyListener(listener)),
	})

	// Audio before the key press must not be forwarded.
	h.device.capture.Push(loudChunk())
	time.Sleep(30 * time.Millisecond)
	if h.session.sentCount() != 0 {
		t.Fatal("expected no audio forwarded before the key press")
	}

	listener.keys <- activation.KeyDown
	waitFor(t, "held-key audio to be forwarded", func() bool {
		h.device.capture.Push(loudChunk())
		return h.session.sentCount() >= 1
	})

	listener.keys <- activation.KeyUp
	waitFor(t, "the turn handoff", func() bool {
		h.device.capture.Push(quietChunk())
		return h.session.endTurnCount() == 1
	})
	h.awaitState(t, StateThinking)

	h.finish(t)
}

func TestActivationFallbackToContinuous(t *testing.T) {
	h := startHarness(t, []OrchestratorOption{
		WithActivationMode(activation.ModePushToTalk),
		WithContinuousFallback(),
	})

	h.device.capture.Push(loudChunk())
	waitFor(t, "fallback to continuous listening", func() bool { return h.session.sentCount() >= 1 })

	if err := h.finish(t); err != nil {
		t.Fatalf("expected a clean shutdown after fallback, got %v", err)
	}
}

func TestActivationFailureWithoutFallback(t *testing.T) {
	o := New(
		WithAudioDevice(newFakeDevice()),
		WithSpeechSession(newFakeSession()),
		WithoutPreprocessing(),
		WithActivationMode(activation.ModePushToTalk),
	)

	err := o.Orchestrate(context.Background())
	if !errors.Is(err, activation.ErrResourceUnavailable) {
		t.Fatalf("expected ErrResourceUnavailable, got %v", err)
	}
}

type stubKeyListener struct {
	keys chan activation.KeyEvent
}

func (l *stubKeyListener) NextKey(ctx context.Context) (activation.KeyEvent, error) {
	select {
	case key := <-l.keys:
		return key, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (l *stubKeyListener) Close() error { return nil }
