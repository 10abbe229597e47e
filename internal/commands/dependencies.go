package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/atotto/clipboard"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/diogo/eda/internal/backend"
	"github.com/diogo/eda/internal/chat"
	"github.com/diogo/eda/internal/config"
	"github.com/diogo/eda/internal/history"
	"github.com/diogo/eda/internal/history/blob"
	"github.com/diogo/eda/internal/logging"
	"github.com/diogo/eda/internal/render"
	"github.com/diogo/eda/internal/stream"
	"github.com/diogo/eda/internal/tui"
)

// TUIInterface defines the methods required from the TUI package.
type TUIInterface interface {
	RunChat(ctx context.Context, sender tui.Sender, sessions tui.SessionReader, markdown render.Options, nav *tui.Navigator) error
	RunPicker(store tui.SessionLister) (string, bool, error)
}

// DefaultTUI is the production implementation of TUIInterface.
type DefaultTUI struct{}

func (DefaultTUI) RunChat(ctx context.Context, sender tui.Sender, sessions tui.SessionReader, markdown render.Options, nav *tui.Navigator) error {
	return tui.RunChat(ctx, sender, sessions, markdown, nav)
}

func (DefaultTUI) RunPicker(store tui.SessionLister) (string, bool, error) {
	return tui.RunPicker(store)
}

// Dependencies holds the external dependencies for the commands.
// This allows for dependency injection and easier testing.
type Dependencies struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// IsTTY reports whether stdout is a terminal.
	IsTTY func() bool
	// StdinPiped reports whether stdin carries input.
	StdinPiped func() bool
	// TermWidth returns the terminal width, or 0 when unknown.
	TermWidth func() int
	Clipboard func(string) error

	TUI TUIInterface

	// StreamDoer and BackendDoer replace the default HTTP clients.
	StreamDoer  stream.Doer
	BackendDoer backend.Doer

	cfg     config.Config
	log     zerolog.Logger
	closers []io.Closer
	store   *history.Store
}

// NewDependencies creates a new Dependencies struct with default implementations.
func NewDependencies() *Dependencies {
	return &Dependencies{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		IsTTY: func() bool {
			return term.IsTerminal(int(os.Stdout.Fd()))
		},
		StdinPiped: func() bool {
			stat, err := os.Stdin.Stat()
			return err == nil && stat.Mode()&os.ModeCharDevice == 0
		},
		TermWidth: func() int {
			width, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err != nil {
				return 0
			}
			return width
		},
		Clipboard: clipboard.WriteAll,
		TUI:       DefaultTUI{},
		log:       zerolog.Nop(),
	}
}

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	verbose   bool
	logLevel  string
	aiURL     string
	serverURL string
}

// setup loads the configuration, applies flag overrides and builds the
// console logger.
func (d *Dependencies) setup(flags globalFlags) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if flags.aiURL != "" {
		cfg.AIURL = flags.aiURL
	}
	if flags.serverURL != "" {
		cfg.ServerURL = flags.serverURL
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if flags.verbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	d.cfg = cfg

	return d.initLogger(logging.Options{Level: cfg.LogLevel, Verbose: cfg.Verbose, Console: d.Stderr})
}

// logToFile moves logging to ~/.eda/eda.log so it does not draw over the TUI.
func (d *Dependencies) logToFile() error {
	path, err := config.GetLogPath()
	if err != nil {
		return err
	}
	return d.initLogger(logging.Options{Level: d.cfg.LogLevel, Verbose: d.cfg.Verbose, File: path})
}

func (d *Dependencies) initLogger(opts logging.Options) error {
	logger, closer, err := logging.New(opts)
	if err != nil {
		return err
	}
	d.log = logger
	d.closers = append(d.closers, closer)
	return nil
}

// Config returns the loaded configuration.
func (d *Dependencies) Config() config.Config {
	return d.cfg
}

// Store opens the session store: the configured blob backend, plus the
// persistence API when an auth token is set.
func (d *Dependencies) Store(ctx context.Context) (*history.Store, error) {
	if d.store != nil {
		return d.store, nil
	}

	bc, err := d.cfg.BlobConfig()
	if err != nil {
		return nil, err
	}
	b, err := blob.Open(ctx, bc)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", bc.Backend, err)
	}
	d.closers = append(d.closers, b)

	opts := []history.Option{
		history.WithBlob(b),
		history.WithLogger(d.log.With().Str("component", "history").Logger()),
	}
	if !d.cfg.Guest() {
		backendOpts := []backend.Option{backend.WithLogger(d.log.With().Str("component", "backend").Logger())}
		if d.BackendDoer != nil {
			backendOpts = append(backendOpts, backend.WithDoer(d.BackendDoer))
		}
		client, err := backend.NewClient(d.cfg.ServerURL, d.cfg.AuthToken, backendOpts...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, history.WithBackend(client))
	}

	store := history.NewStore(opts...)
	if err := store.Load(ctx); err != nil {
		d.log.Warn().Err(err).Msg("starting with an empty session list")
	}
	if store.Authenticated() {
		if err := store.Sync(ctx); err != nil {
			d.log.Warn().Err(err).Msg("using cached sessions")
		}
	}

	d.store = store
	return store, nil
}

// Orchestrator builds the send orchestrator over store.
func (d *Dependencies) Orchestrator(store *history.Store, opts ...chat.Option) (*chat.Orchestrator, error) {
	streamOpts := []stream.Option{
		stream.WithLogger(d.log.With().Str("component", "stream").Logger()),
		stream.WithTimeoutSeconds(d.cfg.StreamTimeout),
	}
	if token := d.cfg.AuthToken; token != "" {
		streamOpts = append(streamOpts, stream.WithToken(token))
	}
	if d.StreamDoer != nil {
		streamOpts = append(streamOpts, stream.WithDoer(d.StreamDoer))
	}
	client, err := stream.NewClient(d.cfg.AIURL, streamOpts...)
	if err != nil {
		return nil, err
	}

	base := []chat.Option{chat.WithLogger(d.log.With().Str("component", "chat").Logger())}
	if d.cfg.FailureMessage != "" {
		base = append(base, chat.WithFailureMessage(d.cfg.FailureMessage))
	}
	return chat.New(store, client, append(base, opts...)...), nil
}

// Markdown returns render options for the given content width.
func (d *Dependencies) Markdown(width int) render.Options {
	return render.LoadOptionsFromConfig(d.cfg.Markdown).WithWidth(width)
}

// Close releases storage connections and log files.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	d.store = nil
	return errors.Join(errs...)
}
