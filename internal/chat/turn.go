package chat

import (
	"context"
	"sync"
	"sync/atomic"
)

const updateBuffer = 64

// Update is a snapshot of a turn. The last update on the channel carries a
// terminal State.
type Update struct {
	Content string
	State   State
	Err     error
}

// Turn is one send in progress: the user message, the assistant placeholder
// and the stream filling it.
type Turn struct {
	sessionID  string
	newSession bool

	updates   chan Update
	done      chan struct{}
	cancel    context.CancelFunc
	cancelled atomic.Bool

	mu        sync.Mutex
	messageID string
	state     State
	content   string
	err       error
}

func newTurn(sessionID string, newSession bool, cancel context.CancelFunc) *Turn {
	return &Turn{
		sessionID:  sessionID,
		newSession: newSession,
		updates:    make(chan Update, updateBuffer),
		done:       make(chan struct{}),
		cancel:     cancel,
		state:      StateSessionReady,
	}
}

// SessionID returns the session the turn writes to.
func (t *Turn) SessionID() string { return t.sessionID }

// MessageID returns the canonical id of the assistant placeholder.
func (t *Turn) MessageID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.messageID
}

// NewSession reports whether the send created its session.
func (t *Turn) NewSession() bool { return t.newSession }

// Updates delivers content snapshots while streaming, then one terminal
// update, then is closed. Intermediate snapshots may be skipped when the
// reader falls behind; the terminal update is always delivered.
func (t *Turn) Updates() <-chan Update { return t.updates }

// Done is closed once the turn reaches a terminal state.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Cancel stops the stream. The placeholder keeps what has arrived so far.
func (t *Turn) Cancel() {
	t.cancelled.Store(true)
	t.cancel()
}

// Wait blocks until the turn ends and returns its final state.
func (t *Turn) Wait() State {
	<-t.done
	return t.State()
}

// State returns the current state.
func (t *Turn) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Content returns the accumulated reply, or the failure message after a
// failed stream.
func (t *Turn) Content() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.content
}

// Err returns the stream error of a failed turn, or the persistence error
// of a completed one.
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Turn) setMessageID(id string) {
	t.mu.Lock()
	t.messageID = id
	t.mu.Unlock()
}

func (t *Turn) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Turn) progress(content string) {
	t.mu.Lock()
	t.content = content
	t.mu.Unlock()

	select {
	case t.updates <- Update{Content: content, State: StateStreaming}:
	default:
	}
}

func (t *Turn) finish(state State, content string, err error) {
	t.mu.Lock()
	t.state = state
	t.content = content
	t.err = err
	t.mu.Unlock()

	final := Update{Content: content, State: state, Err: err}
	for {
		select {
		case t.updates <- final:
			close(t.updates)
			close(t.done)
			return
		default:
			// Make room by dropping the oldest snapshot.
			select {
			case <-t.updates:
			default:
			}
		}
	}
}
