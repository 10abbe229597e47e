// Package history provides the session store: the in-memory source of
// truth for chat sessions, persisted as a single blob and optionally
// mirrored to the persistence backend.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	apierrors "github.com/diogo/eda/internal/errors"
	"github.com/diogo/eda/internal/history/blob"
	"github.com/diogo/eda/internal/models"
)

// Backend is the remote persistence service used in authenticated mode.
type Backend interface {
	CreateSession(ctx context.Context, title string) (models.ChatSession, error)
	UpdateSession(ctx context.Context, id, title string) (models.ChatSession, error)
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context) ([]models.ChatSession, error)
	GetSession(ctx context.Context, id string) (models.ChatSession, error)
	ListMessages(ctx context.Context, sessionID string) ([]models.Message, error)
	CreateMessage(ctx context.Context, sessionID string, role models.Role, content string) (models.Message, error)
	UpdateMessage(ctx context.Context, sessionID, messageID, content string) (models.Message, error)
}

const (
	defaultFlushInterval = 500 * time.Millisecond
	persistTimeout       = 5 * time.Second
)

// Store holds every session in presentation order, newest first.
type Store struct {
	mu       sync.RWMutex
	sessions []models.ChatSession
	current  string

	// dirty is set while the blob lags behind the in-memory list.
	dirty      bool
	flushEvery time.Duration
	lastFlush  time.Time

	blob    blob.Store
	backend Backend
	log     zerolog.Logger
	now     func() time.Time

	newSessionID func() string
	newMessageID func() string

	subMu   sync.Mutex
	subs    map[int]chan Change
	nextSub int
}

// Option configures a Store.
type Option func(*Store)

// WithBlob persists the session list through b.
func WithBlob(b blob.Store) Option {
	return func(s *Store) {
		s.blob = b
	}
}

// WithBackend switches the store to authenticated mode.
func WithBackend(b Backend) Option {
	return func(s *Store) {
		s.backend = b
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// WithFlushInterval bounds how often streamed content updates are written
// to the blob store. Zero writes every update.
func WithFlushInterval(d time.Duration) Option {
	return func(s *Store) {
		s.flushEvery = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides local session and message id allocation.
func WithIDGenerator(sessionID, messageID func() string) Option {
	return func(s *Store) {
		if sessionID != nil {
			s.newSessionID = sessionID
		}
		if messageID != nil {
			s.newMessageID = messageID
		}
	}
}

// NewStore creates an empty store. Call Load to restore persisted sessions.
func NewStore(opts ...Option) *Store {
	s := &Store{
		log:          zerolog.Nop(),
		now:          time.Now,
		newSessionID: generateSessionID,
		newMessageID: uuid.NewString,
		flushEvery:   defaultFlushInterval,
		subs:         make(map[int]chan Change),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func generateSessionID() string {
	return "chat-" + strings.ToLower(ulid.Make().String())
}

// Authenticated reports whether a persistence backend is attached.
func (s *Store) Authenticated() bool {
	return s.backend != nil
}

// Load restores the session list from the blob store. A missing or
// unreadable blob leaves the store empty.
func (s *Store) Load(ctx context.Context) error {
	if s.blob == nil {
		return nil
	}

	data, err := s.blob.Get(ctx, models.StorageKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load sessions: %w", err)
	}

	sessions, err := Decode(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("discarding unreadable session data")
		return err
	}

	s.mu.Lock()
	s.sessions = sessions
	s.mu.Unlock()

	s.log.Debug().Int("sessions", len(sessions)).Msg("sessions loaded")
	s.publish(Change{Kind: ChangeReloaded})
	return nil
}

// persistLocked writes the session list to the blob store. The caller
// holds s.mu. Failures never undo the in-memory state.
func (s *Store) persistLocked(ctx context.Context) error {
	if s.blob == nil {
		s.dirty = false
		return nil
	}
	data, err := Encode(s.sessions)
	if err != nil {
		s.dirty = true
		return err
	}
	if err := s.blob.Put(ctx, models.StorageKey, data); err != nil {
		s.dirty = true
		s.log.Error().Err(err).Msg("failed to save sessions")
		return fmt.Errorf("failed to save sessions: %w", err)
	}
	s.dirty = false
	return nil
}

func (s *Store) indexLocked(id string) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// CreateSession adds an empty session ahead of all others and makes it
// current. In guest mode it replaces the previous session.
func (s *Store) CreateSession(ctx context.Context) (string, error) {
	now := s.now()
	session := models.NewChatSession(s.newSessionID(), now)

	if s.backend != nil {
		remote, err := s.backend.CreateSession(ctx, models.DefaultSessionTitle)
		if err != nil {
			return "", fmt.Errorf("failed to create session: %w", err)
		}
		session.ID = remote.ID
		if remote.Title != "" {
			session.Title = remote.Title
		}
		if !remote.CreatedAt.IsZero() {
			session.CreatedAt = remote.CreatedAt
			session.UpdatedAt = remote.UpdatedAt
		}
	}

	s.mu.Lock()
	if s.backend != nil {
		s.sessions = append([]models.ChatSession{session}, s.sessions...)
	} else {
		s.sessions = []models.ChatSession{session}
	}
	s.current = session.ID
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	s.log.Debug().Str("session", session.ID).Msg("session created")
	s.publish(Change{Kind: ChangeSessionCreated, SessionID: session.ID})
	return session.ID, err
}

// AppendMessage adds msg to the end of the session and returns the id the
// message must be addressed by afterwards. A missing ID or timestamp is
// filled in locally. In authenticated mode the backend's id replaces the
// local one; if the backend call fails the message is kept and the local
// id is returned together with the error.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg models.Message) (string, error) {
	if msg.ID == "" {
		msg.ID = s.newMessageID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}

	s.mu.Lock()
	idx := s.indexLocked(sessionID)
	if idx < 0 {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", apierrors.ErrSessionNotFound, sessionID)
	}
	session := &s.sessions[idx]
	if len(session.Messages) == 0 && msg.Role == models.RoleUser {
		session.Title = models.DeriveTitle(msg.Content)
	}
	session.Messages = append(session.Messages, msg)
	session.UpdatedAt = s.now()
	title := session.Title
	firstUser := len(session.Messages) == 1 && msg.Role == models.RoleUser
	saveErr := s.persistLocked(ctx)
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeMessageAppended, SessionID: sessionID, MessageID: msg.ID})

	if s.backend == nil {
		return msg.ID, saveErr
	}

	remote, err := s.backend.CreateMessage(ctx, sessionID, msg.Role, msg.Content)
	if err != nil {
		s.log.Warn().Err(err).Str("session", sessionID).Msg("failed to persist message")
		return msg.ID, fmt.Errorf("failed to persist message: %w", err)
	}
	if firstUser {
		if _, err := s.backend.UpdateSession(ctx, sessionID, title); err != nil {
			s.log.Warn().Err(err).Str("session", sessionID).Msg("failed to persist title")
		}
	}
	if remote.ID == "" || remote.ID == msg.ID {
		return msg.ID, saveErr
	}

	s.mu.Lock()
	if i := s.indexLocked(sessionID); i >= 0 {
		if j := s.sessions[i].FindMessage(msg.ID); j >= 0 {
			s.sessions[i].Messages[j].ID = remote.ID
		}
	}
	saveErr = s.persistLocked(ctx)
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeMessageUpdated, SessionID: sessionID, MessageID: remote.ID})
	return remote.ID, saveErr
}

// UpdateMessageContent replaces the content of one message. It does
// nothing when the session or message does not exist. Blob writes are
// throttled by the flush interval; Flush or SaveMessageContent writes what
// is pending.
func (s *Store) UpdateMessageContent(sessionID, messageID, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	found, err := s.setContent(ctx, sessionID, messageID, content, false)
	if !found {
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Str("session", sessionID).Str("message", messageID).Msg("content kept in memory")
	}
	s.publish(Change{Kind: ChangeMessageUpdated, SessionID: sessionID, MessageID: messageID})
}

func (s *Store) setContent(ctx context.Context, sessionID, messageID, content string, force bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(sessionID)
	if idx < 0 {
		return false, nil
	}
	j := s.sessions[idx].FindMessage(messageID)
	if j < 0 {
		return false, nil
	}
	if s.sessions[idx].Messages[j].Content != content {
		s.sessions[idx].Messages[j].Content = content
		s.dirty = true
	}
	if !s.dirty {
		return true, nil
	}
	if !force && time.Since(s.lastFlush) < s.flushEvery {
		return true, nil
	}
	s.lastFlush = time.Now()
	return true, s.persistLocked(ctx)
}

// Flush writes pending content updates to the blob store.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	s.lastFlush = time.Now()
	return s.persistLocked(ctx)
}

// SaveMessageContent applies content locally, writes the session list to
// the blob store and, in authenticated mode, to the backend. The local
// content is kept when either write fails.
func (s *Store) SaveMessageContent(ctx context.Context, sessionID, messageID, content string) error {
	found, saveErr := s.setContent(ctx, sessionID, messageID, content, true)
	if !found {
		return fmt.Errorf("%w: %s", apierrors.ErrSessionNotFound, sessionID)
	}
	s.publish(Change{Kind: ChangeMessageUpdated, SessionID: sessionID, MessageID: messageID})

	if s.backend == nil {
		return saveErr
	}
	if _, err := s.backend.UpdateMessage(ctx, sessionID, messageID, content); err != nil {
		s.log.Warn().Err(err).Str("session", sessionID).Str("message", messageID).Msg("failed to persist message content")
		return fmt.Errorf("failed to persist message content: %w", err)
	}
	return saveErr
}

// RenameSession sets a session title.
func (s *Store) RenameSession(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("title cannot be empty")
	}

	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", apierrors.ErrSessionNotFound, id)
	}
	s.sessions[idx].Title = title
	s.sessions[idx].UpdatedAt = s.now()
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeSessionUpdated, SessionID: id})

	if s.backend != nil {
		if _, berr := s.backend.UpdateSession(ctx, id, title); berr != nil {
			return fmt.Errorf("failed to rename session: %w", berr)
		}
	}
	return err
}

// DeleteSession removes a session. Deleting the current session clears
// the current selection.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if s.backend != nil {
		if err := s.backend.DeleteSession(ctx, id); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
	}

	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", apierrors.ErrSessionNotFound, id)
	}
	s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	if s.current == id {
		s.current = ""
	}
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeSessionDeleted, SessionID: id})
	return err
}

// ClearAll removes every local session.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	s.sessions = nil
	s.current = ""
	var err error
	if s.blob != nil {
		if derr := s.blob.Delete(ctx, models.StorageKey); derr != nil {
			err = fmt.Errorf("failed to clear sessions: %w", derr)
		}
	}
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeCleared})
	return err
}

// ListSessions returns copies of all sessions in presentation order.
func (s *Store) ListSessions() []models.ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ChatSession, len(s.sessions))
	for i := range s.sessions {
		out[i] = s.sessions[i].Clone()
	}
	return out
}

// GetSession returns a copy of the session with the given id.
func (s *Store) GetSession(id string) (models.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return models.ChatSession{}, false
	}
	return s.sessions[idx].Clone(), true
}

// Current returns the id of the current session, or "" when none is selected.
func (s *Store) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SetCurrent selects a session. An empty id clears the selection.
func (s *Store) SetCurrent(id string) error {
	s.mu.Lock()
	if id != "" && s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", apierrors.ErrSessionNotFound, id)
	}
	s.current = id
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeCurrent, SessionID: id})
	return nil
}

// Sync replaces the local list with the backend's sessions. Messages
// already held locally are kept for sessions that still exist.
func (s *Store) Sync(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}

	remote, err := s.backend.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to sync sessions: %w", err)
	}

	s.mu.Lock()
	for i := range remote {
		if idx := s.indexLocked(remote[i].ID); idx >= 0 && len(remote[i].Messages) == 0 {
			remote[i].Messages = s.sessions[idx].Messages
		}
		if remote[i].Messages == nil {
			remote[i].Messages = []models.Message{}
		}
	}
	s.sessions = remote
	if s.current != "" && s.indexLocked(s.current) < 0 {
		s.current = ""
	}
	perr := s.persistLocked(ctx)
	s.mu.Unlock()

	s.log.Debug().Int("sessions", len(remote)).Msg("sessions synced")
	s.publish(Change{Kind: ChangeReloaded})
	return perr
}

// LoadSession fetches a session's messages from the backend and replaces
// the local copy. In guest mode it only checks that the session exists.
func (s *Store) LoadSession(ctx context.Context, id string) (models.ChatSession, error) {
	if s.backend == nil {
		session, ok := s.GetSession(id)
		if !ok {
			return models.ChatSession{}, fmt.Errorf("%w: %s", apierrors.ErrSessionNotFound, id)
		}
		return session, nil
	}

	session, err := s.backend.GetSession(ctx, id)
	if err != nil {
		return models.ChatSession{}, fmt.Errorf("failed to load session: %w", err)
	}
	messages, err := s.backend.ListMessages(ctx, id)
	if err != nil {
		return models.ChatSession{}, fmt.Errorf("failed to load messages: %w", err)
	}
	session.Messages = messages

	s.mu.Lock()
	if idx := s.indexLocked(id); idx >= 0 {
		s.sessions[idx] = session
	} else {
		s.sessions = append([]models.ChatSession{session}, s.sessions...)
	}
	perr := s.persistLocked(ctx)
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeSessionUpdated, SessionID: id})
	return session.Clone(), perr
}

// Encode serializes sessions in the persisted format.
func Encode(sessions []models.ChatSession) ([]byte, error) {
	if sessions == nil {
		sessions = []models.ChatSession{}
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sessions: %w", err)
	}
	return data, nil
}

// Decode parses the persisted format.
func Decode(data []byte) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, apierrors.NewParseError(fmt.Sprintf("invalid session data: %v", err), models.StorageKey)
	}
	for i := range sessions {
		if sessions[i].Messages == nil {
			sessions[i].Messages = []models.Message{}
		}
	}
	return sessions, nil
}
