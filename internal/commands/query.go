package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/diogo/eda/internal/chat"
	apierrors "github.com/diogo/eda/internal/errors"
	"github.com/diogo/eda/internal/history"
	"github.com/diogo/eda/internal/render"
)

var (
	colorText     = lipgloss.Color("#c0caf5")
	colorTextDim  = lipgloss.Color("#565f89")
	colorTextMute = lipgloss.Color("#3b4261")
	colorSuccess  = lipgloss.Color("#9ece6a")
	colorWarning  = lipgloss.Color("#e0af68")
	colorError    = lipgloss.Color("#f7768e")
	colorPrimary  = lipgloss.Color("#7aa2f7")
)

// Styles matching the chat TUI
var (
	assistantLabelStyle  = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	assistantBubbleStyle = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(colorPrimary).Foreground(colorText).Padding(0, 1).MarginBottom(1)
	dimStyle             = lipgloss.NewStyle().Foreground(colorTextDim)
	successStyle         = lipgloss.NewStyle().Foreground(colorSuccess)
	warnStyle            = lipgloss.NewStyle().Foreground(colorWarning)
)

// queryOptions are the flags of a one-shot query.
type queryOptions struct {
	file    string
	session string
	output  string
	copy    bool
}

// runQuery sends one prompt and prints the reply. On a terminal the reply
// is rendered as markdown once complete; otherwise chunks are written to
// stdout as they arrive.
func runQuery(ctx context.Context, deps *Dependencies, prompt string, opts queryOptions) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return fmt.Errorf("prompt cannot be empty")
	}

	store, err := deps.Store(ctx)
	if err != nil {
		return err
	}
	if err := selectSession(ctx, store, opts.session); err != nil {
		return err
	}

	orch, err := deps.Orchestrator(store)
	if err != nil {
		return err
	}

	turn, err := orch.Send(ctx, prompt)
	if err != nil {
		return err
	}

	tty := deps.IsTTY() && opts.output == ""
	var spin *spinner
	if tty {
		spin = newSpinner(deps.Stderr, "Eda is typing")
		spin.start()
	}

	var printed string
	var final chat.Update
	for u := range turn.Updates() {
		final = u
		if tty || opts.output != "" || u.State == chat.StateFailed {
			continue
		}
		if strings.HasPrefix(u.Content, printed) && len(u.Content) > len(printed) {
			fmt.Fprint(deps.Stdout, u.Content[len(printed):])
			printed = u.Content
		}
	}
	if spin != nil {
		spin.halt()
	}

	switch final.State {
	case chat.StateFailed:
		if printed != "" {
			fmt.Fprintln(deps.Stdout)
		}
		return fmt.Errorf("reply failed: %w", final.Err)
	case chat.StateCancelled:
		if printed != "" {
			fmt.Fprintln(deps.Stdout)
		}
		fmt.Fprintln(deps.Stderr, warnStyle.Render("⚠ Reply stopped before it finished"))
		return nil
	}

	text := final.Content
	switch {
	case opts.output != "":
		if err := os.WriteFile(opts.output, []byte(text), 0o644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintln(deps.Stderr, successStyle.Render(fmt.Sprintf("✓ Response saved to %s", opts.output)))
	case tty:
		printBubble(deps, text)
	default:
		if !strings.HasSuffix(printed, "\n") {
			fmt.Fprintln(deps.Stdout)
		}
	}

	if opts.copy || deps.Config().CopyToClipboard {
		if err := deps.Clipboard(text); err != nil {
			fmt.Fprintln(deps.Stderr, warnStyle.Render(fmt.Sprintf("⚠ Failed to copy to clipboard: %v", err)))
		} else {
			fmt.Fprintln(deps.Stderr, successStyle.Render("✓ Copied to clipboard"))
		}
	}

	if tty || deps.Config().Verbose {
		label := "session"
		if turn.NewSession() {
			label = "new session"
		}
		fmt.Fprintln(deps.Stderr, dimStyle.Render(fmt.Sprintf("%s %s (continue with --session %s)", label, turn.SessionID(), turn.SessionID())))
	}
	return nil
}

// selectSession makes ref the current session, or clears the selection so
// the next send starts a new one.
func selectSession(ctx context.Context, store *history.Store, ref string) error {
	if ref == "" {
		return store.SetCurrent("")
	}
	id, err := history.NewResolver(store).Resolve(ref)
	if err != nil {
		return err
	}
	return useSession(ctx, store, id)
}

// useSession loads the messages of session id and makes it current. An
// empty id starts a new conversation on the next send.
func useSession(ctx context.Context, store *history.Store, id string) error {
	if id != "" {
		if _, err := store.LoadSession(ctx, id); err != nil {
			return err
		}
	}
	return store.SetCurrent(id)
}

func printBubble(deps *Dependencies, text string) {
	bubbleWidth := deps.TermWidth() - 4
	if bubbleWidth < 40 {
		bubbleWidth = 40
	}
	if bubbleWidth > 120 {
		bubbleWidth = 120
	}

	rendered := render.Reply(text, deps.Markdown(bubbleWidth-4))
	fmt.Fprintln(deps.Stdout, assistantLabelStyle.Render("✦ Eda"))
	fmt.Fprintln(deps.Stdout, assistantBubbleStyle.Width(bubbleWidth).Render(rendered))
}

// formatErrorMessage formats an error with additional context from structured errors
func formatErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	errorStyle := lipgloss.NewStyle().Foreground(colorError)

	var sb strings.Builder
	sb.WriteString(errorStyle.Render("✗ " + err.Error()))

	if status := apierrors.GetHTTPStatus(err); status > 0 {
		sb.WriteString(dimStyle.Render(fmt.Sprintf("\n  HTTP Status: %d", status)))
	}

	var v *apierrors.ValidationError
	if errors.As(err, &v) {
		for _, msg := range v.All() {
			sb.WriteString(dimStyle.Render("\n  " + msg))
		}
	}

	switch {
	case apierrors.IsAuthError(err):
		sb.WriteString(dimStyle.Render("\n  Hint: set a valid token with 'eda config set auth_token <token>'"))
	case apierrors.IsNetworkError(err):
		sb.WriteString(dimStyle.Render("\n  Hint: check that the service is running, or try 'eda mock-server'"))
	}

	return sb.String()
}
