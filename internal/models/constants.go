// Package models contains the chat data model shared by the stream client,
// the session store and the send orchestrator.
package models

// Paths on the AI completion service and the persistence backend.
const (
	PathChat     = "/chat"
	PathHealth   = "/health"
	PathSessions = "/chat/sessions"
)

// Defaults used when a session is created without an explicit title.
const (
	DefaultSessionTitle = "New conversation"

	// MaxTitleLength is the number of characters kept when a title is
	// derived from the first user message.
	MaxTitleLength = 30

	titleEllipsis = "..."
)

// StorageKey is the fixed key under which the session list is stored locally.
const StorageKey = "eda-chat-sessions"
