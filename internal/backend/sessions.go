package backend

import (
	"context"
	"net/url"

	http "github.com/bogdanfinn/fhttp"

	apierrors "github.com/diogo/eda/internal/errors"
	"github.com/diogo/eda/internal/models"
)

// ListSessions returns the user's sessions in the backend's order.
func (c *Client) ListSessions(ctx context.Context) ([]models.ChatSession, error) {
	body, err := c.do(ctx, http.MethodGet, models.PathSessions, nil)
	if err != nil {
		return nil, err
	}

	list := envelope(body, "sessions")
	if !list.IsArray() {
		return nil, apierrors.NewParseError("expected session list", models.PathSessions)
	}
	out := make([]models.ChatSession, 0, len(list.Array()))
	for _, item := range list.Array() {
		s, err := toSession(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// GetSession returns one session, including its messages when the backend
// embeds them.
func (c *Client) GetSession(ctx context.Context, id string) (models.ChatSession, error) {
	body, err := c.do(ctx, http.MethodGet, sessionPath(id), nil)
	if err != nil {
		return models.ChatSession{}, err
	}
	return toSession(envelope(body, "session"))
}

// CreateSession creates a session with the given title.
func (c *Client) CreateSession(ctx context.Context, title string) (models.ChatSession, error) {
	payload := map[string]string{}
	if title != "" {
		payload["title"] = title
	}
	body, err := c.do(ctx, http.MethodPost, models.PathSessions, payload)
	if err != nil {
		return models.ChatSession{}, err
	}
	return toSession(envelope(body, "session"))
}

// UpdateSession renames a session.
func (c *Client) UpdateSession(ctx context.Context, id, title string) (models.ChatSession, error) {
	body, err := c.do(ctx, http.MethodPut, sessionPath(id), map[string]string{"title": title})
	if err != nil {
		return models.ChatSession{}, err
	}
	return toSession(envelope(body, "session"))
}

// DeleteSession deletes a session and its messages.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, sessionPath(id), nil)
	return err
}

// ListMessages returns a session's messages in chronological order.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	body, err := c.do(ctx, http.MethodGet, messagesPath(sessionID), nil)
	if err != nil {
		return nil, err
	}
	list := envelope(body, "messages")
	if !list.IsArray() {
		return nil, apierrors.NewParseError("expected message list", messagesPath(sessionID))
	}
	return toMessages(list)
}

type messagePayload struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

// CreateMessage appends a message and returns it with its canonical id.
func (c *Client) CreateMessage(ctx context.Context, sessionID string, role models.Role, content string) (models.Message, error) {
	body, err := c.do(ctx, http.MethodPost, messagesPath(sessionID), messagePayload{Role: role, Content: content})
	if err != nil {
		return models.Message{}, err
	}
	return toMessage(envelope(body, "message"))
}

// UpdateMessage replaces a message's content.
func (c *Client) UpdateMessage(ctx context.Context, sessionID, messageID, content string) (models.Message, error) {
	path := messagesPath(sessionID) + "/" + url.PathEscape(messageID)
	body, err := c.do(ctx, http.MethodPut, path, map[string]string{"content": content})
	if err != nil {
		return models.Message{}, err
	}
	return toMessage(envelope(body, "message"))
}
