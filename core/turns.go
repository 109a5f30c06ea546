package orchestration

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

type State string

const (
	// StateListening means user audio is being captured and forwarded.
	StateListening State = "listening"
	// StateThinking means the turn was handed off and no response has
	// arrived yet.
	StateThinking State = "thinking"
	// StateSpeaking means response audio is being played back.
	StateSpeaking State = "speaking"
	// StateEnded is terminal.
	StateEnded State = "ended"
)

// SessionTurn is one assistant response in the conversation log.
type SessionTurn struct {
	ID          string
	Text        string
	Interrupted bool
}

// Conversation is a point-in-time snapshot of the session's turn history.
type Conversation struct {
	Turns []SessionTurn
}

// turnLog accumulates assistant turns as response parts stream in. The
// receive loop writes, snapshots may be taken from anywhere.
type turnLog struct {
	mu     sync.Mutex
	turns  []SessionTurn
	active bool
}

func (l *turnLog) beginTurn() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active {
		return
	}
	l.turns = append(l.turns, SessionTurn{ID: uuid.NewString()})
	l.active = true
}

func (l *turnLog) appendText(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active {
		l.turns = append(l.turns, SessionTurn{ID: uuid.NewString()})
		l.active = true
	}
	l.turns[len(l.turns)-1].Text += text
}

func (l *turnLog) endTurn(interrupted bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active {
		return
	}
	l.turns[len(l.turns)-1].Interrupted = interrupted
	l.active = false
}

func (l *turnLog) snapshot() Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()

	var snapshot Conversation
	if err := copier.CopyWithOption(&snapshot.Turns, &l.turns, copier.Option{DeepCopy: true}); err != nil {
		// Fall back to a shallow copy rather than returning nothing.
		snapshot.Turns = append([]SessionTurn(nil), l.turns...)
	}
	return snapshot
}
