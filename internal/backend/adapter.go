package backend

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	apierrors "github.com/diogo/eda/internal/errors"
	"github.com/diogo/eda/internal/models"
)

// parseTime accepts the timestamp layouts the backend emits.
func parseTime(r gjson.Result) time.Time {
	if !r.Exists() || r.String() == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, r.String()); err == nil {
			return t
		}
	}
	return time.Time{}
}

func toMessage(r gjson.Result) (models.Message, error) {
	id := r.Get("id").String()
	if id == "" {
		return models.Message{}, apierrors.NewParseError("message without id", "message.id")
	}
	role, err := models.ParseRole(r.Get("role").String())
	if err != nil {
		return models.Message{}, apierrors.NewParseError(err.Error(), "message.role")
	}
	return models.Message{
		ID:        id,
		Role:      role,
		Content:   r.Get("content").String(),
		Timestamp: parseTime(r.Get("created_at")),
	}, nil
}

func toMessages(r gjson.Result) ([]models.Message, error) {
	out := []models.Message{}
	for _, item := range r.Array() {
		m, err := toMessage(item)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func toSession(r gjson.Result) (models.ChatSession, error) {
	if !r.IsObject() {
		return models.ChatSession{}, apierrors.NewParseError("expected session object", "session")
	}
	id := r.Get("id").String()
	if id == "" {
		return models.ChatSession{}, apierrors.NewParseError("session without id", "session.id")
	}

	s := models.ChatSession{
		ID:        id,
		Title:     r.Get("title").String(),
		CreatedAt: parseTime(r.Get("created_at")),
		UpdatedAt: parseTime(r.Get("updated_at")),
		Messages:  []models.Message{},
	}
	if s.Title == "" {
		s.Title = models.DefaultSessionTitle
	}
	if msgs := r.Get("messages"); msgs.IsArray() {
		parsed, err := toMessages(msgs)
		if err != nil {
			return models.ChatSession{}, fmt.Errorf("session %s: %w", id, err)
		}
		s.Messages = parsed
	}
	return s, nil
}
