package commands

import (
	"github.com/spf13/cobra"

	"github.com/diogo/eda/internal/chat"
	"github.com/diogo/eda/internal/tui"
)

func newChatCmd(deps *Dependencies) *cobra.Command {
	var pick bool

	cmd := &cobra.Command{
		Use:   "chat [session]",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat with Eda.

Pass a session reference (ID, index, @last or part of the title) to pick up
an earlier conversation, or --pick to choose one from a list. Press Esc
while a reply is streaming to stop it, and Esc or Ctrl+C to leave.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := ""
			if len(args) > 0 {
				ref = args[0]
			}
			return runChat(cmd, deps, ref, pick)
		},
	}
	cmd.Flags().BoolVarP(&pick, "pick", "p", false, "Choose a conversation from a list")
	return cmd
}

func runChat(cmd *cobra.Command, deps *Dependencies, ref string, pick bool) error {
	ctx := cmd.Context()

	if err := deps.logToFile(); err != nil {
		return err
	}

	store, err := deps.Store(ctx)
	if err != nil {
		return err
	}

	if ref == "" && pick && len(store.ListSessions()) > 0 {
		id, confirmed, err := deps.TUI.RunPicker(store)
		if err != nil {
			return err
		}
		if !confirmed {
			return nil
		}
		if err := useSession(ctx, store, id); err != nil {
			return err
		}
	} else if err := selectSession(ctx, store, ref); err != nil {
		return err
	}

	nav := &tui.Navigator{}
	orch, err := deps.Orchestrator(store, chat.WithNavigator(nav.Navigate))
	if err != nil {
		return err
	}

	width := deps.TermWidth()
	if width <= 0 {
		width = 80
	}
	return deps.TUI.RunChat(ctx, orch, store, deps.Markdown(width), nav)
}
