package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/diogo/eda/internal/history"
	"github.com/diogo/eda/internal/models"
)

func newSessionsCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"history"},
		Short:   "Manage conversations",
		Long: `View and manage your conversations.

` + history.ListAliases(),
	}

	cmd.AddCommand(
		newSessionsListCmd(deps),
		newSessionsShowCmd(deps),
		newSessionsRenameCmd(deps),
		newSessionsDeleteCmd(deps),
		newSessionsClearCmd(deps),
		newSessionsExportCmd(deps),
	)
	return cmd
}

func newSessionsListCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := deps.Store(cmd.Context())
			if err != nil {
				return err
			}

			sessions := store.ListSessions()
			if len(sessions) == 0 {
				fmt.Fprintln(deps.Stdout, "No conversations found.")
				return nil
			}

			now := time.Now()
			w := tabwriter.NewWriter(deps.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "#\tID\tTITLE\tMESSAGES\tUPDATED")
			for i, s := range sessions {
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
					i+1, s.ID, runewidth.Truncate(s.Title, 40, "..."), len(s.Messages), history.FormatRelativeTime(s.UpdatedAt, now))
			}
			return w.Flush()
		},
	}
}

func newSessionsShowCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session>",
		Short: "Show a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := deps.Store(cmd.Context())
			if err != nil {
				return err
			}
			id, err := history.NewResolver(store).Resolve(args[0])
			if err != nil {
				return err
			}
			s, err := store.LoadSession(cmd.Context(), id)
			if err != nil {
				return err
			}

			fmt.Fprintf(deps.Stdout, "ID: %s\n", s.ID)
			fmt.Fprintf(deps.Stdout, "Title: %s\n", s.Title)
			fmt.Fprintf(deps.Stdout, "Created: %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(deps.Stdout, "Updated: %s\n", s.UpdatedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(deps.Stdout, "Messages: %d\n\n", len(s.Messages))

			for i, msg := range s.Messages {
				role := "You"
				if msg.Role == models.RoleAssistant {
					role = "Eda"
				}
				fmt.Fprintf(deps.Stdout, "[%d] %s (%s):\n", i+1, role, msg.Timestamp.Format("15:04"))
				fmt.Fprintf(deps.Stdout, "  %s\n\n", strings.ReplaceAll(msg.Content, "\n", "\n  "))
			}
			return nil
		},
	}
}

func newSessionsRenameCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <session> <title>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := deps.Store(cmd.Context())
			if err != nil {
				return err
			}
			id, err := history.NewResolver(store).Resolve(args[0])
			if err != nil {
				return err
			}
			title := strings.TrimSpace(strings.Join(args[1:], " "))
			if title == "" {
				return fmt.Errorf("title cannot be empty")
			}
			if err := store.RenameSession(cmd.Context(), id, title); err != nil {
				return err
			}
			fmt.Fprintf(deps.Stdout, "Renamed %s to %q\n", id, title)
			return nil
		},
	}
}

func newSessionsDeleteCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := deps.Store(cmd.Context())
			if err != nil {
				return err
			}
			id, err := history.NewResolver(store).Resolve(args[0])
			if err != nil {
				return err
			}
			if err := store.DeleteSession(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to delete: %w", err)
			}
			fmt.Fprintf(deps.Stdout, "Deleted conversation: %s\n", id)
			return nil
		},
	}
}

func newSessionsClearCmd(deps *Dependencies) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete all conversations without --yes")
			}
			store, err := deps.Store(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.ClearAll(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear history: %w", err)
			}
			fmt.Fprintln(deps.Stdout, "All conversations deleted.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")
	return cmd
}

func newSessionsExportCmd(deps *Dependencies) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export <session>",
		Short: "Export a conversation as markdown, JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := history.ParseExportFormat(format)
			if err != nil {
				return err
			}
			store, err := deps.Store(cmd.Context())
			if err != nil {
				return err
			}
			id, err := history.NewResolver(store).Resolve(args[0])
			if err != nil {
				return err
			}
			s, err := store.LoadSession(cmd.Context(), id)
			if err != nil {
				return err
			}
			data, err := history.Export(s, f)
			if err != nil {
				return err
			}

			if output == "" {
				_, err := deps.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			fmt.Fprintf(deps.Stderr, "Exported %s to %s\n", id, output)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "markdown", "Output format (markdown, json, yaml)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	return cmd
}
