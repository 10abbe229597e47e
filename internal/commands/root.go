// Package commands provides CLI commands for eda.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Version info (set at build time)
	Version   = "0.1.0"
	BuildTime = "unknown"
)

// NewRootCmd builds the command tree.
func NewRootCmd(deps *Dependencies) *cobra.Command {
	var flags globalFlags
	var query queryOptions

	cmd := &cobra.Command{
		Use:   "eda [prompt]",
		Short: "Chat with Eda, the Bulgarian university admissions assistant",
		Long: `eda talks to the Eda assistant service. Replies stream in as they are
generated and conversations are kept locally, or on the server when an
auth token is configured.

Examples:
  eda chat                              Start interactive chat
  eda "What are the admission requirements?"
  eda --session @last "And the deadlines?"
  eda -f question.md                    Read prompt from file
  cat question.md | eda                 Read prompt from stdin
  eda sessions list                     List conversations
  eda mock-server                       Run a local stand-in assistant`,
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return deps.setup(flags)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, ok, err := readPrompt(deps, query.file, args)
			if err != nil {
				return err
			}
			if !ok {
				return cmd.Help()
			}
			return runQuery(cmd.Context(), deps, prompt, query)
		},
	}

	cmd.PersistentFlags().BoolVar(&flags.verbose, "verbose", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flags.aiURL, "ai-url", "", "Assistant service URL")
	cmd.PersistentFlags().StringVar(&flags.serverURL, "server-url", "", "Persistence API URL")

	cmd.Flags().StringVarP(&query.file, "file", "f", "", "Read prompt from file")
	cmd.Flags().StringVarP(&query.session, "session", "s", "", "Continue a session (ID, index, @last or title)")
	cmd.Flags().StringVarP(&query.output, "output", "o", "", "Save response to file")
	cmd.Flags().BoolVar(&query.copy, "copy", false, "Copy the reply to the clipboard")

	cmd.AddCommand(
		newChatCmd(deps),
		newSessionsCmd(deps),
		newConfigCmd(deps),
		newMockServerCmd(deps),
	)
	return cmd
}

// readPrompt picks the prompt from --file, the argument or piped stdin, in
// that order. ok is false when there is no input at all.
func readPrompt(deps *Dependencies, file string, args []string) (string, bool, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", false, fmt.Errorf("failed to read file: %w", err)
		}
		return string(data), true, nil
	}
	if len(args) > 0 {
		return args[0], true, nil
	}
	if deps.StdinPiped() {
		data, err := io.ReadAll(deps.Stdin)
		if err != nil {
			return "", false, fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), true, nil
	}
	return "", false, nil
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := NewDependencies()
	defer deps.Close()

	if err := NewRootCmd(deps).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(deps.Stderr, formatErrorMessage(err))
		return 1
	}
	return 0
}
