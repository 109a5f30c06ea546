package activation

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/koscakluka/aura-core/core/audio"
)

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

func TestContinuousEmitsSingleListeningStart(t *testing.T) {
	a := NewContinuous()

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("expected repeated start to succeed, got %v", err)
	}

	if event, ok := a.TryNextEvent(); !ok || event != EventListeningStart {
		t.Fatalf("expected a listening start, got %q (ok=%v)", event, ok)
	}
	if event, ok := a.TryNextEvent(); ok {
		t.Fatalf("expected exactly one event, got extra %q", event)
	}
}

func TestContinuousReportsInterruptions(t *testing.T) {
	a := NewContinuous()

	a.SignalInterrupted()
	if event, ok := a.TryNextEvent(); ok {
		t.Fatalf("expected interruptions before start to be ignored, got %q", event)
	}

	_ = a.Start(context.Background())
	a.TryNextEvent()

	a.SignalInterrupted()
	if event, ok := a.TryNextEvent(); !ok || event != EventInterrupted {
		t.Fatalf("expected an interrupted event, got %q (ok=%v)", event, ok)
	}
}

type scriptedKeyListener struct {
	keys   chan KeyEvent
	closed bool
}

func newScriptedKeyListener() *scriptedKeyListener {
	return &scriptedKeyListener{keys: make(chan KeyEvent, 16)}
}

func (l *scriptedKeyListener) NextKey(ctx context.Context) (KeyEvent, error) {
	select {
	case key, ok := <-l.keys:
		if !ok {
			return 0, errors.New("listener closed")
		}
		return key, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (l *scriptedKeyListener) Close() error {
	l.closed = true
	return nil
}

func awaitEvent(t *testing.T, a Activator) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	event, err := a.NextEvent(ctx)
	if err != nil {
		t.Fatalf("expected an event, got %v", err)
	}
	return event
}

func TestPushToTalkWithoutListenerFailsToStart(t *testing.T) {
	a := NewPushToTalk(nil)
	if err := a.Start(context.Background()); !errors.Is(err, ErrResourceUnavailable) {
		t.Fatalf("expected ErrResourceUnavailable, got %v", err)
	}
}

func TestPushToTalkPressReleaseCycle(t *testing.T) {
	listener := newScriptedKeyListener()
	a := NewPushToTalk(listener)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}
	defer a.Stop()

	listener.keys <- KeyDown
	if event := awaitEvent(t, a); event != EventListeningStart {
		t.Fatalf("expected listening start on key down, got %q", event)
	}

	listener.keys <- KeyUp
	if event := awaitEvent(t, a); event != EventListeningEnd {
		t.Fatalf("expected listening end on key release, got %q", event)
	}
}

func TestPushToTalkIgnoresKeyRepeat(t *testing.T) {
	listener := newScriptedKeyListener()
	a := NewPushToTalk(listener)
	_ = a.Start(context.Background())
	defer a.Stop()

	listener.keys <- KeyDown
	listener.keys <- KeyDown
	listener.keys <- KeyDown
	listener.keys <- KeyUp

	if event := awaitEvent(t, a); event != EventListeningStart {
		t.Fatalf("expected a single listening start, got %q", event)
	}
	if event := awaitEvent(t, a); event != EventListeningEnd {
		t.Fatalf("expected listening end after repeats, got %q", event)
	}
}

func TestPushToTalkExitKey(t *testing.T) {
	listener := newScriptedKeyListener()
	a := NewPushToTalk(listener)
	_ = a.Start(context.Background())

	listener.keys <- KeyExit
	if event := awaitEvent(t, a); event != EventExit {
		t.Fatalf("expected exit event, got %q", event)
	}

	if err := a.Stop(); err != nil {
		t.Fatalf("expected stop to succeed, got %v", err)
	}
	if !listener.closed {
		t.Fatal("expected stop to close the key listener")
	}
}

type scriptedScorer struct {
	scores []float64
	next   int
	resets int
}

func (s *scriptedScorer) Score([]byte) (float64, error) {
	if s.next >= len(s.scores) {
		return 0, nil
	}
	score := s.scores[s.next]
	s.next++
	return score, nil
}

func (s *scriptedScorer) Reset() { s.resets++ }

func TestWakePhraseWithoutScorerFailsToStart(t *testing.T) {
	a := NewWakePhrase(nil)
	if err := a.Start(context.Background()); !errors.Is(err, ErrResourceUnavailable) {
		t.Fatalf("expected ErrResourceUnavailable, got %v", err)
	}
}

func TestWakePhraseDetectionOpensTurn(t *testing.T) {
	scorer := &scriptedScorer{scores: []float64{0.1, 0.4, 0.9}}
	a := NewWakePhrase(scorer)
	_ = a.Start(context.Background())

	a.Feed(loudChunk())
	a.Feed(loudChunk())
	if event, ok := a.TryNextEvent(); ok {
		t.Fatalf("expected no event below threshold, got %q", event)
	}

	a.Feed(loudChunk())
	if event, ok := a.TryNextEvent(); !ok || event != EventListeningStart {
		t.Fatalf("expected listening start at threshold, got %q (ok=%v)", event, ok)
	}
	if scorer.resets != 1 {
		t.Fatalf("expected scorer reset on detection, got %d resets", scorer.resets)
	}
}

func TestWakePhraseSilenceClosesTurn(t *testing.T) {
	scorer := &scriptedScorer{scores: []float64{1.0}}
	a := NewWakePhrase(scorer)
	_ = a.Start(context.Background())

	a.Feed(loudChunk())
	a.TryNextEvent()

	// A loud chunk mid-silence resets the run.
	for i := 0; i < silenceChunkLimit-1; i++ {
		a.Feed(quietChunk())
	}
	a.Feed(loudChunk())
	if event, ok := a.TryNextEvent(); ok {
		t.Fatalf("expected interrupted silence to keep the turn open, got %q", event)
	}

	for i := 0; i < silenceChunkLimit; i++ {
		a.Feed(quietChunk())
	}
	if event, ok := a.TryNextEvent(); !ok || event != EventListeningEnd {
		t.Fatalf("expected listening end after sustained silence, got %q (ok=%v)", event, ok)
	}

	// Back to waiting: scoring resumes.
	a.Feed(loudChunk())
	if event, ok := a.TryNextEvent(); ok {
		t.Fatalf("expected no event while waiting again, got %q", event)
	}
}

func TestEnergyScorerNeedsSustainedSpeech(t *testing.T) {
	scorer := NewEnergyScorer()

	if score, _ := scorer.Score(loudChunk()); score >= DefaultWakeThreshold {
		t.Fatalf("expected one loud chunk to stay below threshold, got %f", score)
	}
	scorer.Score(loudChunk())
	if score, _ := scorer.Score(loudChunk()); score < 1 {
		t.Fatalf("expected sustained speech to reach full confidence, got %f", score)
	}

	scorer.Reset()
	if score, _ := scorer.Score(loudChunk()); score >= DefaultWakeThreshold {
		t.Fatalf("expected reset to clear the streak, got %f", score)
	}
}

func TestEventsAreNeitherLostNorReordered(t *testing.T) {
	listener := newScriptedKeyListener()
	a := NewPushToTalk(listener)
	_ = a.Start(context.Background())
	defer a.Stop()

	for i := 0; i < 5; i++ {
		listener.keys <- KeyDown
		listener.keys <- KeyUp
	}

	for i := 0; i < 5; i++ {
		if event := awaitEvent(t, a); event != EventListeningStart {
			t.Fatalf("cycle %d: expected listening start, got %q", i, event)
		}
		if event := awaitEvent(t, a); event != EventListeningEnd {
			t.Fatalf("cycle %d: expected listening end, got %q", i, event)
		}
	}
}

func TestBuildSelectsStrategy(t *testing.T) {
	if _, err := Build(Mode("hologram")); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}

	a, err := Build(ModeWakePhrase)
	if err != nil {
		t.Fatalf("expected wake-phrase build to succeed, got %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("expected the default scorer to be wired in, got %v", err)
	}
}
