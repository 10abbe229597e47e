package tui

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/diogo/eda/internal/chat"
	"github.com/diogo/eda/internal/history"
	"github.com/diogo/eda/internal/models"
	"github.com/diogo/eda/internal/render"
)

// Message types for the TUI
type (
	turnStartedMsg struct {
		turn *chat.Turn
	}
	turnUpdateMsg struct {
		turn   *chat.Turn
		update chat.Update
		closed bool
	}
	navigatedMsg struct {
		sessionID string
	}
	storeChangedMsg struct {
		change history.Change
		closed bool
	}
	errMsg struct {
		err error
	}
)

// Sender starts turns and tears them down on exit.
type Sender interface {
	Send(ctx context.Context, text string) (*chat.Turn, error)
	CancelAll()
}

// SessionReader is the read side of the session store the chat view renders
// from. Subscribe lets the view follow mutations made outside the chat loop.
type SessionReader interface {
	Current() string
	GetSession(id string) (models.ChatSession, bool)
	Subscribe() (<-chan history.Change, func())
}

// Navigator forwards session changes from the orchestrator into a running
// program. Calls before Attach are dropped.
type Navigator struct {
	mu      sync.Mutex
	program *tea.Program
}

// Attach connects the navigator to p.
func (n *Navigator) Attach(p *tea.Program) {
	n.mu.Lock()
	n.program = p
	n.mu.Unlock()
}

// Navigate reports that the conversation now lives at sessionID.
func (n *Navigator) Navigate(sessionID string) {
	n.mu.Lock()
	p := n.program
	n.mu.Unlock()
	if p != nil {
		go p.Send(navigatedMsg{sessionID: sessionID})
	}
}

// Model represents the chat TUI state
type Model struct {
	ctx      context.Context
	sender   Sender
	sessions SessionReader
	markdown render.Options

	changes     <-chan history.Change
	unsubscribe func()

	// UI components
	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	// State
	sessionID string
	turn      *chat.Turn
	isTyping  bool
	ready     bool
	err       error

	// Dimensions
	width  int
	height int
}

// NewChatModel creates a chat model bound to the store's current session.
func NewChatModel(ctx context.Context, sender Sender, sessions SessionReader, markdown render.Options) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask about admissions, programmes, deadlines..."
	ta.CharLimit = 4000
	ta.ShowLineNumbers = false
	ta.SetHeight(2)
	ta.Focus()

	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Base = lipgloss.NewStyle().Foreground(colorText)
	ta.FocusedStyle.Placeholder = lipgloss.NewStyle().Foreground(colorTextMute)
	ta.BlurredStyle = ta.FocusedStyle

	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = loadingStyle

	changes, unsubscribe := sessions.Subscribe()

	return Model{
		ctx:         ctx,
		sender:      sender,
		sessions:    sessions,
		markdown:    markdown,
		changes:     changes,
		unsubscribe: unsubscribe,
		textarea:    ta,
		spinner:     s,
		sessionID:   sessions.Current(),
	}
}

// Close ends the model's store subscription.
func (m Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, waitForChange(m.changes))
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 3
		inputHeight := 5
		statusHeight := 1
		vpHeight := m.height - headerHeight - inputHeight - statusHeight - 2
		if vpHeight < 5 {
			vpHeight = 5
		}
		contentWidth := m.width - 4

		if !m.ready {
			m.viewport = viewport.New(contentWidth, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = contentWidth
			m.viewport.Height = vpHeight
		}
		m.textarea.SetWidth(contentWidth - 4)
		m.refresh()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.sender.CancelAll()
			return m, tea.Quit

		case "esc":
			if m.isTyping && m.turn != nil {
				m.turn.Cancel()
				return m, nil
			}
			m.sender.CancelAll()
			return m, tea.Quit

		case "enter":
			if m.isTyping {
				return m, nil
			}
			input := strings.TrimSpace(m.textarea.Value())
			if input == "" {
				return m, nil
			}
			if input == "/exit" || input == "/quit" {
				return m, tea.Quit
			}
			m.textarea.Reset()
			m.err = nil
			m.isTyping = true
			return m, tea.Batch(m.send(input), m.spinner.Tick)
		}

	case turnStartedMsg:
		m.turn = msg.turn
		m.sessionID = msg.turn.SessionID()
		m.refresh()
		m.viewport.GotoBottom()
		return m, waitForUpdate(msg.turn)

	case turnUpdateMsg:
		if msg.turn != m.turn {
			return m, nil
		}
		if msg.closed || msg.update.State.Terminal() {
			m.isTyping = false
			m.turn = nil
			if msg.update.State == chat.StateFailed {
				m.err = msg.update.Err
			}
			m.refresh()
			m.viewport.GotoBottom()
			return m, nil
		}
		m.refresh()
		m.viewport.GotoBottom()
		return m, waitForUpdate(msg.turn)

	case navigatedMsg:
		m.sessionID = msg.sessionID

	case storeChangedMsg:
		if msg.closed {
			return m, nil
		}
		m.applyChange(msg.change)
		return m, waitForChange(m.changes)

	case errMsg:
		m.isTyping = false
		if !errors.Is(msg.err, chat.ErrEmptyMessage) {
			m.err = msg.err
		}

	case spinner.TickMsg:
		if m.isTyping {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	// Only KeyMsg reaches the textarea so escape sequences do not leak into it.
	if !m.isTyping {
		if _, ok := msg.(tea.KeyMsg); ok {
			m.textarea, cmd = m.textarea.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// send starts a turn. The reply is picked up by waitForUpdate.
func (m Model) send(text string) tea.Cmd {
	ctx := m.ctx
	sender := m.sender
	return func() tea.Msg {
		turn, err := sender.Send(ctx, text)
		if err != nil {
			return errMsg{err: err}
		}
		return turnStartedMsg{turn: turn}
	}
}

// waitForUpdate blocks on the next snapshot of turn.
func waitForUpdate(turn *chat.Turn) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-turn.Updates()
		return turnUpdateMsg{turn: turn, update: u, closed: !ok}
	}
}

// waitForChange blocks on the next store notification.
func waitForChange(changes <-chan history.Change) tea.Cmd {
	if changes == nil {
		return nil
	}
	return func() tea.Msg {
		c, ok := <-changes
		return storeChangedMsg{change: c, closed: !ok}
	}
}

// applyChange re-renders when a mutation touches the session on screen.
// Message changes during a turn are left to the turn's own updates.
func (m *Model) applyChange(c history.Change) {
	switch c.Kind {
	case history.ChangeSessionDeleted:
		if c.SessionID != m.sessionID {
			return
		}
		m.sessionID = m.sessions.Current()
	case history.ChangeCleared:
		m.sessionID = ""
	case history.ChangeReloaded:
		if _, ok := m.sessions.GetSession(m.sessionID); !ok {
			m.sessionID = m.sessions.Current()
		}
	case history.ChangeSessionUpdated:
		if c.SessionID != m.sessionID {
			return
		}
	case history.ChangeMessageAppended, history.ChangeMessageUpdated:
		if m.isTyping || c.SessionID != m.sessionID {
			return
		}
	default:
		return
	}
	m.refresh()
}

// messages returns the messages of the session on screen.
func (m Model) messages() []models.Message {
	if m.sessionID == "" {
		return nil
	}
	session, ok := m.sessions.GetSession(m.sessionID)
	if !ok {
		return nil
	}
	return session.Messages
}

// refresh re-renders the viewport from the store.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderMessages(m.messages()))
}

func (m Model) renderMessages(msgs []models.Message) string {
	var content strings.Builder
	bubbleWidth := m.viewport.Width - 6
	if bubbleWidth < 10 {
		bubbleWidth = 10
	}

	for i, msg := range msgs {
		if i > 0 {
			content.WriteString("\n")
		}
		if msg.Role == models.RoleUser {
			content.WriteString(userLabelStyle.Render("● You") + "\n")
			content.WriteString(userBubbleStyle.Width(bubbleWidth).Render(msg.Content))
		} else {
			body := msg.Content
			if body == "" {
				body = m.spinner.View() + " thinking"
			} else {
				body = render.Reply(body, m.markdown.WithWidth(bubbleWidth-4))
			}
			content.WriteString(assistantLabelStyle.Render("✦ Eda") + "\n")
			content.WriteString(assistantBubbleStyle.Width(bubbleWidth).Render(body))
		}
		content.WriteString("\n")
	}
	return content.String()
}

// View renders the TUI
func (m Model) View() string {
	if !m.ready {
		return loadingStyle.Render("  Initializing...")
	}

	contentWidth := m.width - 4
	var sections []string

	sections = append(sections, headerStyle.Width(contentWidth).Render(m.renderHeader(contentWidth-4)))

	body := m.viewport.View()
	if len(m.messages()) == 0 {
		body = m.renderWelcome()
	}
	sections = append(sections, messagesAreaStyle.
		Width(contentWidth).
		Height(m.viewport.Height).
		Render(body))

	var input string
	if m.isTyping {
		input = m.spinner.View() + loadingStyle.Render(" Eda is typing...")
	} else {
		input = lipgloss.JoinVertical(lipgloss.Left, inputLabelStyle.Render("You"), m.textarea.View())
	}
	sections = append(sections, inputPanelStyle.Width(contentWidth).Render(input))

	sections = append(sections, m.renderStatusBar(contentWidth))

	if m.err != nil {
		sections = append(sections, FormatError(m.err))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader(width int) string {
	title := titleStyle.Render("✦ Eda")
	sep := subtitleStyle.Render("  •  ")
	avail := width - lipgloss.Width(title) - lipgloss.Width(sep)

	if m.sessionID == "" {
		return title + sep + subtitleStyle.Render(truncate("new conversation", avail))
	}
	path := "  /chat/" + m.sessionID
	name := m.sessionID
	if s, ok := m.sessions.GetSession(m.sessionID); ok {
		name = s.Title
	}
	return title + sep + subtitleStyle.Render(truncate(name, avail-runewidth.StringWidth(path))) + hintStyle.Render(path)
}

func (m Model) renderWelcome() string {
	width := m.viewport.Width - 4
	content := lipgloss.JoinVertical(
		lipgloss.Center,
		welcomeTitleStyle.Width(width).Render("Welcome to Eda"),
		"",
		welcomeStyle.Width(width).Render("Ask about universities, programmes and admissions in Bulgaria."),
	)

	top := (m.viewport.Height - lipgloss.Height(content)) / 2
	if top < 0 {
		top = 0
	}
	return strings.Repeat("\n", top) + content
}

func (m Model) renderStatusBar(width int) string {
	if m.isTyping {
		return renderShortcuts(width, []shortcut{{"Esc", "Stop"}, {"Ctrl+C", "Quit"}})
	}
	return renderShortcuts(width, []shortcut{{"Enter", "Send"}, {"Esc", "Quit"}, {"↑↓", "Scroll"}})
}

// RunChat starts the chat TUI. Any turn still streaming when the program
// exits is cancelled.
func RunChat(ctx context.Context, sender Sender, sessions SessionReader, markdown render.Options, nav *Navigator) error {
	m := NewChatModel(ctx, sender, sessions, markdown)
	defer m.Close()
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if nav != nil {
		nav.Attach(p)
		defer nav.Attach(nil)
	}
	defer sender.CancelAll()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
