package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/diogo/eda/internal/history"
	"github.com/diogo/eda/internal/models"
)

// SessionLister lists sessions newest first.
type SessionLister interface {
	ListSessions() []models.ChatSession
}

// PickerModel lets the user resume a session or start a new one.
type PickerModel struct {
	sessions []models.ChatSession
	now      func() time.Time

	// Cursor 0 is "New conversation"; i > 0 is sessions[i-1].
	cursor    int
	confirmed bool

	width  int
	height int
	ready  bool
}

// NewPickerModel creates a picker over the store's sessions.
func NewPickerModel(store SessionLister) PickerModel {
	return PickerModel{
		sessions: store.ListSessions(),
		now:      time.Now,
	}
}

// Init initializes the model
func (m PickerModel) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the model
func (m PickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			return m, tea.Quit

		case "up", "k":
			m.cursor--
			if m.cursor < 0 {
				m.cursor = len(m.sessions)
			}

		case "down", "j":
			m.cursor++
			if m.cursor > len(m.sessions) {
				m.cursor = 0
			}

		case "home", "g":
			m.cursor = 0

		case "end", "G":
			m.cursor = len(m.sessions)

		case "enter":
			m.confirmed = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View renders the picker
func (m PickerModel) View() string {
	if !m.ready {
		return loadingStyle.Render("  Initializing...")
	}

	width := m.width - 4
	if width < 40 {
		width = 40
	}

	lines := []string{titleStyle.Render("Conversations"), ""}
	lines = append(lines, m.renderItem(0, okStyle.Render("+ New conversation"), ""))

	if len(m.sessions) == 0 {
		lines = append(lines, hintStyle.Render("  No saved conversations"))
	}

	visible := max(5, m.height-8)
	offset := 0
	if m.cursor >= visible {
		offset = m.cursor - visible + 1
	}
	end := min(offset+visible, len(m.sessions)+1)
	if offset > 0 {
		lines = append(lines, hintStyle.Render("  ..."))
	}

	now := m.now()
	for i := max(offset, 1); i < end; i++ {
		s := m.sessions[i-1]
		when := history.FormatRelativeTime(s.UpdatedAt, now)
		avail := width - 10 - runewidth.StringWidth(when)
		lines = append(lines, m.renderItem(i, truncate(s.Title, avail), when))
	}
	if end < len(m.sessions)+1 {
		lines = append(lines, hintStyle.Render("  ..."))
	}

	panel := pickerPanelStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	status := renderShortcuts(width, []shortcut{{"↑↓", "Navigate"}, {"Enter", "Select"}, {"Esc", "Quit"}})
	return lipgloss.JoinVertical(lipgloss.Left, panel, status)
}

func (m PickerModel) renderItem(index int, title, when string) string {
	cursor := "  "
	style := pickerItemStyle
	if index == m.cursor {
		cursor = pickerSelectedStyle.Render("> ")
		style = pickerSelectedStyle
	}
	line := cursor + style.Render(title)
	if when != "" {
		line += pickerTimeStyle.Render(fmt.Sprintf(" - %s", when))
	}
	return line
}

// Selection returns the chosen session id ("" for a new conversation) and
// whether the user confirmed a choice.
func (m PickerModel) Selection() (string, bool) {
	if !m.confirmed {
		return "", false
	}
	if m.cursor == 0 {
		return "", true
	}
	return m.sessions[m.cursor-1].ID, true
}

// RunPicker shows the picker and returns the selection.
func RunPicker(store SessionLister) (string, bool, error) {
	p := tea.NewProgram(NewPickerModel(store), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return "", false, err
	}
	if pm, ok := final.(PickerModel); ok {
		id, confirmed := pm.Selection()
		return id, confirmed, nil
	}
	return "", false, nil
}
