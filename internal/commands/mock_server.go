package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/diogo/eda/internal/devserver"
)

func newMockServerCmd(deps *Dependencies) *cobra.Command {
	var (
		addr    string
		delay   time.Duration
		origins []string
	)

	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run a local stand-in for the assistant service",
		Long: `Serve canned university admissions answers over the same streaming
contract as the assistant service. Point the client at it with
--ai-url http://localhost:8000. A message containing "` + devserver.FailMarker + `" gets an
error event instead of a reply.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := devserver.New(devserver.Config{
				Addr:           addr,
				Delay:          delay,
				AllowedOrigins: origins,
				Logger:         deps.log.With().Str("component", "mock-server").Logger(),
			})
			fmt.Fprintf(deps.Stderr, "Mock assistant listening on %s\n", addr)
			return srv.ListenAndServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8000", "Listen address")
	cmd.Flags().DurationVar(&delay, "delay", 40*time.Millisecond, "Pause between streamed words")
	cmd.Flags().StringSliceVar(&origins, "origins", nil, "Allowed CORS origins (default all)")
	return cmd
}
