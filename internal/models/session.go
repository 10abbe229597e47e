package models

import "time"

// ChatSession is a conversation thread. Messages are kept in insertion
// order, which is also chronological order.
type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewChatSession returns an empty session with the default title.
func NewChatSession(id string, now time.Time) ChatSession {
	return ChatSession{
		ID:        id,
		Title:     DefaultSessionTitle,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// History returns the role and content of every message, in order.
func (s *ChatSession) History() []ChatMessage {
	out := make([]ChatMessage, 0, len(s.Messages))
	for _, m := range s.Messages {
		out = append(out, ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// FindMessage returns the index of the message with the given id, or -1.
func (s *ChatSession) FindMessage(id string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the session.
func (s ChatSession) Clone() ChatSession {
	msgs := make([]Message, len(s.Messages))
	copy(msgs, s.Messages)
	s.Messages = msgs
	return s
}

// DeriveTitle builds a session title from the first user message. Content
// longer than MaxTitleLength characters is cut and suffixed with "...".
func DeriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= MaxTitleLength {
		return content
	}
	return string(runes[:MaxTitleLength]) + titleEllipsis
}
