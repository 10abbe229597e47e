// Package chat drives a send: it appends the user message and an empty
// assistant placeholder to the session store, streams the reply into the
// placeholder and makes the final durability write.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/diogo/eda/internal/models"
	"github.com/diogo/eda/internal/stream"
)

// DefaultFailureMessage replaces the placeholder when a stream fails.
const DefaultFailureMessage = "Sorry, I encountered an error. Please try again."

var (
	// ErrEmptyMessage is returned for blank input. Nothing is changed.
	ErrEmptyMessage = errors.New("message cannot be empty")
	// ErrTurnInFlight is returned when the session is already streaming a reply.
	ErrTurnInFlight = errors.New("a reply is already streaming for this session")
)

// SessionStore is the part of the session store a send needs.
type SessionStore interface {
	Current() string
	CreateSession(ctx context.Context) (string, error)
	GetSession(id string) (models.ChatSession, bool)
	AppendMessage(ctx context.Context, sessionID string, msg models.Message) (string, error)
	UpdateMessageContent(sessionID, messageID, content string)
	SaveMessageContent(ctx context.Context, sessionID, messageID, content string) error
	Flush(ctx context.Context) error
}

// Streamer opens completion streams.
type Streamer interface {
	Stream(ctx context.Context, req stream.Request) *stream.Stream
}

// Orchestrator runs sends against one store and one streamer.
type Orchestrator struct {
	store          SessionStore
	streamer       Streamer
	log            zerolog.Logger
	failureMessage string
	navigate       func(sessionID string)

	mu       sync.Mutex
	inflight map[string]*Turn
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.log = l
	}
}

// WithFailureMessage overrides the text shown when a stream fails.
func WithFailureMessage(msg string) Option {
	return func(o *Orchestrator) {
		if msg != "" {
			o.failureMessage = msg
		}
	}
}

// WithNavigator registers a callback run once when a send that created a
// new session completes. It is called from the streaming goroutine.
func WithNavigator(fn func(sessionID string)) Option {
	return func(o *Orchestrator) {
		o.navigate = fn
	}
}

// New creates an Orchestrator.
func New(store SessionStore, streamer Streamer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:          store,
		streamer:       streamer,
		log:            zerolog.Nop(),
		failureMessage: DefaultFailureMessage,
		inflight:       make(map[string]*Turn),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Send starts a turn with text in the current session, creating one when
// none is active. It returns once the stream is open; the reply arrives
// through the returned Turn and the store. A turn cancelled before its
// stream opened is returned already cancelled.
func (o *Orchestrator) Send(ctx context.Context, text string) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	sessionID, isNew, err := o.readySession(ctx)
	if err != nil {
		return nil, err
	}

	turnCtx, cancel := context.WithCancel(ctx)
	t := newTurn(sessionID, isNew, cancel)
	if !o.claim(sessionID, t) {
		cancel()
		return nil, ErrTurnInFlight
	}

	session, _ := o.store.GetSession(sessionID)
	history := session.History()

	userID, err := o.store.AppendMessage(ctx, sessionID, models.Message{Role: models.RoleUser, Content: text})
	if userID == "" {
		o.abort(t, StateFailed, err)
		return nil, err
	}
	if err != nil {
		o.log.Warn().Err(err).Str("session", sessionID).Msg("user message kept locally")
	}
	t.setState(StateUserMessageAppended)

	placeholderID, err := o.store.AppendMessage(ctx, sessionID, models.Message{Role: models.RoleAssistant})
	if placeholderID == "" {
		o.abort(t, StateFailed, err)
		return nil, err
	}
	if err != nil {
		o.log.Warn().Err(err).Str("session", sessionID).Msg("placeholder kept locally")
	}
	t.setMessageID(placeholderID)
	t.setState(StatePlaceholderAppended)

	// Cancelled while the messages were being written: never open the stream.
	if t.cancelled.Load() || turnCtx.Err() != nil {
		o.log.Debug().Str("session", sessionID).Msg("turn cancelled before streaming")
		o.abort(t, StateCancelled, nil)
		return t, nil
	}

	req := stream.Request{
		Messages:  append(history, models.ChatMessage{Role: models.RoleUser, Content: text}),
		SessionID: sessionID,
	}
	t.setState(StateStreaming)

	o.log.Debug().
		Str("session", sessionID).
		Str("message", placeholderID).
		Int("history", len(req.Messages)).
		Bool("new_session", isNew).
		Msg("turn started")

	s := o.streamer.Stream(turnCtx, req)
	go o.pump(turnCtx, t, s)
	return t, nil
}

func (o *Orchestrator) readySession(ctx context.Context) (string, bool, error) {
	if id := o.store.Current(); id != "" {
		if _, ok := o.store.GetSession(id); ok {
			return id, false, nil
		}
	}

	id, err := o.store.CreateSession(ctx)
	if id == "" {
		return "", false, err
	}
	if err != nil {
		o.log.Warn().Err(err).Str("session", id).Msg("session kept locally")
	}
	return id, true, nil
}

func (o *Orchestrator) claim(sessionID string, t *Turn) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[sessionID]; busy {
		return false
	}
	o.inflight[sessionID] = t
	return true
}

func (o *Orchestrator) release(sessionID string, t *Turn) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[sessionID] == t {
		delete(o.inflight, sessionID)
	}
}

// flush writes locally kept content that the store has not saved yet.
func (o *Orchestrator) flush(ctx context.Context, t *Turn) {
	if err := o.store.Flush(context.WithoutCancel(ctx)); err != nil {
		o.log.Warn().Err(err).Str("session", t.sessionID).Msg("content kept in memory")
	}
}

// abort ends a turn that never reached the stream.
func (o *Orchestrator) abort(t *Turn, state State, err error) {
	t.cancel()
	o.release(t.sessionID, t)
	t.finish(state, "", err)
}

// CancelAll cancels every turn in flight and waits for them to end.
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	turns := make([]*Turn, 0, len(o.inflight))
	for _, t := range o.inflight {
		turns = append(turns, t)
	}
	o.mu.Unlock()

	for _, t := range turns {
		t.Cancel()
	}
	for _, t := range turns {
		<-t.Done()
	}
}

func (o *Orchestrator) pump(ctx context.Context, t *Turn, s *stream.Stream) {
	start := time.Now()
	messageID := t.MessageID()
	var acc strings.Builder
	final := StateCompleted
	var streamErr error

	for ev := range s.Events() {
		switch ev.Kind {
		case stream.EventChunk:
			acc.WriteString(ev.Text)
			content := acc.String()
			o.store.UpdateMessageContent(t.sessionID, messageID, content)
			t.progress(content)
		case stream.EventDone:
			if t.cancelled.Load() || ctx.Err() != nil {
				final = StateCancelled
			}
		case stream.EventError:
			final = StateFailed
			streamErr = ev.Err
		}
	}
	t.cancel()

	content := acc.String()
	var turnErr error

	switch final {
	case StateCompleted:
		if content != "" {
			if err := o.store.SaveMessageContent(context.WithoutCancel(ctx), t.sessionID, messageID, content); err != nil {
				o.log.Error().Err(err).Str("session", t.sessionID).Msg("failed to save reply")
				turnErr = err
			}
		}
		if t.newSession && o.navigate != nil {
			o.navigate(t.sessionID)
		}
	case StateFailed:
		o.log.Warn().Err(streamErr).Str("session", t.sessionID).Msg("stream failed")
		content = o.failureMessage
		o.store.UpdateMessageContent(t.sessionID, messageID, content)
		turnErr = streamErr
		o.flush(ctx, t)
	case StateCancelled:
		o.log.Debug().Str("session", t.sessionID).Int("chars", len(content)).Msg("turn cancelled")
		o.flush(ctx, t)
	}

	o.log.Info().
		Str("session", t.sessionID).
		Str("state", final.String()).
		Dur("duration", time.Since(start)).
		Msg("turn finished")

	o.release(t.sessionID, t)
	t.finish(final, content, turnErr)
}
