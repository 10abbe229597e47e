package history

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/diogo/eda/internal/models"
)

// idPrefix forces an exact ID match, for backends whose IDs are numeric.
const idPrefix = "id:"

// Resolver resolves user-friendly references to session IDs
type Resolver struct {
	store *Store
}

// NewResolver creates a new reference resolver
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve converts a user-friendly reference to a session ID
//
// Supported references:
//   - "@last" - most recent session (first in presentation order)
//   - "@first" - oldest session
//   - "id:<ID>" - exact session ID only
//   - "1", "2", "3" - by index (1-based), taking precedence over numeric IDs
//   - exact session ID
//   - "substring" - case-insensitive match on title (error if multiple matches)
func (r *Resolver) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)

	if ref == "" {
		return "", fmt.Errorf("empty reference")
	}

	sessions := r.store.ListSessions()
	if len(sessions) == 0 {
		return "", fmt.Errorf("no sessions found")
	}

	switch strings.ToLower(ref) {
	case "@last":
		return sessions[0].ID, nil
	case "@first":
		return sessions[len(sessions)-1].ID, nil
	}

	if len(ref) >= len(idPrefix) && strings.EqualFold(ref[:len(idPrefix)], idPrefix) {
		id := strings.TrimSpace(ref[len(idPrefix):])
		if id == "" {
			return "", fmt.Errorf("empty session id")
		}
		for _, s := range sessions {
			if s.ID == id {
				return s.ID, nil
			}
		}
		return "", fmt.Errorf("no session with id '%s'", id)
	}

	if index, err := strconv.Atoi(ref); err == nil {
		if index < 1 || index > len(sessions) {
			return "", fmt.Errorf("index %d out of range (1-%d)", index, len(sessions))
		}
		return sessions[index-1].ID, nil
	}

	for _, s := range sessions {
		if s.ID == ref {
			return s.ID, nil
		}
	}

	refLower := strings.ToLower(ref)
	var matches []models.ChatSession
	for _, s := range sessions {
		if strings.Contains(strings.ToLower(s.Title), refLower) {
			matches = append(matches, s)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no session matching '%s'", ref)
	case 1:
		return matches[0].ID, nil
	default:
		var titles []string
		for _, m := range matches {
			titles = append(titles, fmt.Sprintf("'%s'", m.Title))
		}
		return "", fmt.Errorf("multiple sessions match '%s': %s. Use id:<ID> or be more specific",
			ref, strings.Join(titles, ", "))
	}
}

// ResolveSession resolves a reference and returns the session
func (r *Resolver) ResolveSession(ref string) (models.ChatSession, error) {
	id, err := r.Resolve(ref)
	if err != nil {
		return models.ChatSession{}, err
	}
	s, ok := r.store.GetSession(id)
	if !ok {
		return models.ChatSession{}, fmt.Errorf("session not found: %s", id)
	}
	return s, nil
}

// ListAliases returns information about supported references
func ListAliases() string {
	return `Supported references:
  @last          Most recent session
  @first         Oldest session
  1, 2, 3        By index (1-based, from most recent)
  id:<ID>        Exact session ID (use for numeric IDs)
  chat-...       Direct session ID
  "text"         Search by title substring`
}
