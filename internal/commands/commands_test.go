package commands

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	http "github.com/bogdanfinn/fhttp"

	"github.com/diogo/eda/internal/config"
	apierrors "github.com/diogo/eda/internal/errors"
	"github.com/diogo/eda/internal/history"
	"github.com/diogo/eda/internal/render"
	"github.com/diogo/eda/internal/tui"
)

// fakeAI answers every completion request with the next canned reply and
// records the request bodies.
type fakeAI struct {
	mu      sync.Mutex
	status  int
	replies [][]string
	bodies  []string
}

func (f *fakeAI) Do(req *http.Request) (*http.Response, error) {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, string(data))

	if f.status != 0 && f.status != http.StatusOK {
		return &http.Response{StatusCode: f.status, Body: io.NopCloser(strings.NewReader(`{"error":"unavailable"}`))}, nil
	}
	var chunks []string
	if len(f.replies) > 0 {
		chunks, f.replies = f.replies[0], f.replies[1:]
	}
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString("event: message\ndata: {\"content\":\"" + c + "\"}\n\n")
	}
	sb.WriteString("event: done\ndata: {}\n\n")
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(sb.String()))}, nil
}

func (f *fakeAI) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bodies...)
}

type fakeTUI struct {
	pickID    string
	pickOK    bool
	picked    bool
	chatCalls int
	current   string
	nav       *tui.Navigator
	markdown  render.Options
}

func (f *fakeTUI) RunChat(_ context.Context, _ tui.Sender, sessions tui.SessionReader, markdown render.Options, nav *tui.Navigator) error {
	f.chatCalls++
	f.current = sessions.Current()
	f.nav = nav
	f.markdown = markdown
	return nil
}

func (f *fakeTUI) RunPicker(tui.SessionLister) (string, bool, error) {
	f.picked = true
	return f.pickID, f.pickOK, nil
}

type testDeps struct {
	*Dependencies
	stdout    *bytes.Buffer
	stderr    *bytes.Buffer
	ai        *fakeAI
	tui       *fakeTUI
	clipboard []string
}

// useTempHome points the config directory at a fresh temp dir and clears
// environment overrides.
func useTempHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(config.EnvHome, home)
	for _, key := range []string{
		config.EnvAIURL, config.EnvServerURL, config.EnvAuthToken,
		config.EnvStorageBackend, config.EnvStorageDSN, config.EnvLogLevel,
	} {
		t.Setenv(key, "")
	}
	return home
}

func newTestDeps(stdin string) *testDeps {
	td := &testDeps{
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		ai:     &fakeAI{},
		tui:    &fakeTUI{},
	}
	td.Dependencies = &Dependencies{
		Stdin:      strings.NewReader(stdin),
		Stdout:     td.stdout,
		Stderr:     td.stderr,
		IsTTY:      func() bool { return false },
		StdinPiped: func() bool { return stdin != "" },
		TermWidth:  func() int { return 80 },
		Clipboard: func(s string) error {
			td.clipboard = append(td.clipboard, s)
			return nil
		},
		TUI:        td.tui,
		StreamDoer: td.ai,
	}
	return td
}

func run(t *testing.T, td *testDeps, args ...string) error {
	t.Helper()
	td.stdout.Reset()
	td.stderr.Reset()

	cmd := NewRootCmd(td.Dependencies)
	cmd.SetArgs(args)
	cmd.SetOut(td.stdout)
	cmd.SetErr(td.stderr)
	err := cmd.ExecuteContext(context.Background())
	if cerr := td.Close(); cerr != nil {
		t.Errorf("Close: %v", cerr)
	}
	return err
}

func TestQuery_StreamsReplyToStdout(t *testing.T) {
	useTempHome(t)
	td := newTestDeps("")
	td.ai.replies = [][]string{{"Sofia ", "University"}}

	if err := run(t, td, "Which university is the oldest?"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := td.stdout.String(); got != "Sofia University\n" {
		t.Errorf("stdout = %q, want %q", got, "Sofia University\n")
	}
	reqs := td.ai.requests()
	if len(reqs) != 1 || !strings.Contains(reqs[0], "Which university is the oldest?") {
		t.Errorf("requests = %v", reqs)
	}
}

func TestQuery_ContinuesSession(t *testing.T) {
	useTempHome(t)
	td := newTestDeps("")
	td.ai.replies = [][]string{{"Apply by July."}, {"Bring your diploma."}}

	if err := run(t, td, "When is the deadline?"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := run(t, td, "--session", "@last", "What documents do I need?"); err != nil {
		t.Fatalf("second run: %v", err)
	}

	reqs := td.ai.requests()
	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want 2", len(reqs))
	}
	for _, want := range []string{"When is the deadline?", "Apply by July.", "What documents do I need?"} {
		if !strings.Contains(reqs[1], want) {
			t.Errorf("second request missing %q: %s", want, reqs[1])
		}
	}

	if err := run(t, td, "sessions", "list"); err != nil {
		t.Fatalf("sessions list: %v", err)
	}
	if !strings.Contains(td.stdout.String(), "When is the deadline?") {
		t.Errorf("list output = %q", td.stdout.String())
	}
}

func TestQuery_Failure(t *testing.T) {
	useTempHome(t)
	td := newTestDeps("")
	td.ai.status = http.StatusServiceUnavailable

	err := run(t, td, "Hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "reply failed") {
		t.Errorf("error = %v", err)
	}
	if got := apierrors.GetHTTPStatus(err); got != http.StatusServiceUnavailable {
		t.Errorf("HTTP status = %d, want 503", got)
	}
}

func TestQuery_OutputFileAndCopy(t *testing.T) {
	useTempHome(t)
	td := newTestDeps("")
	td.ai.replies = [][]string{{"Saved ", "reply"}}
	out := filepath.Join(t.TempDir(), "reply.md")

	if err := run(t, td, "-o", out, "--copy", "Save this"); err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "Saved reply" {
		t.Errorf("file = %q", data)
	}
	if td.stdout.Len() != 0 {
		t.Errorf("stdout = %q, want empty", td.stdout.String())
	}
	if len(td.clipboard) != 1 || td.clipboard[0] != "Saved reply" {
		t.Errorf("clipboard = %v", td.clipboard)
	}
}

func TestQuery_PromptFromStdin(t *testing.T) {
	useTempHome(t)
	td := newTestDeps("  piped question \n")
	td.ai.replies = [][]string{{"ok"}}

	if err := run(t, td); err != nil {
		t.Fatalf("run: %v", err)
	}
	reqs := td.ai.requests()
	if len(reqs) != 1 || !strings.Contains(reqs[0], `"piped question"`) {
		t.Errorf("requests = %v", reqs)
	}
}

func TestQuery_NoInputShowsHelp(t *testing.T) {
	useTempHome(t)
	td := newTestDeps("")

	if err := run(t, td); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(td.ai.requests()) != 0 {
		t.Error("no request expected")
	}
	if !strings.Contains(td.stdout.String(), "Usage:") {
		t.Errorf("stdout = %q, want help", td.stdout.String())
	}
}

func TestReadPrompt(t *testing.T) {
	file := filepath.Join(t.TempDir(), "q.md")
	if err := os.WriteFile(file, []byte("from file"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		file   string
		args   []string
		stdin  string
		want   string
		wantOK bool
	}{
		{"file wins", file, []string{"arg"}, "stdin", "from file", true},
		{"argument", "", []string{"arg"}, "stdin", "arg", true},
		{"stdin", "", nil, "stdin", "stdin", true},
		{"nothing", "", nil, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			td := newTestDeps(tt.stdin)
			got, ok, err := readPrompt(td.Dependencies, tt.file, tt.args)
			if err != nil {
				t.Fatalf("readPrompt: %v", err)
			}
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("readPrompt = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}

	td := newTestDeps("")
	if _, _, err := readPrompt(td.Dependencies, filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}

func seedSession(t *testing.T, td *testDeps, question, answer string) {
	t.Helper()
	td.ai.replies = append(td.ai.replies, []string{answer})
	if err := run(t, td, question); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestSessions_ShowRenameExportDelete(t *testing.T) {
	useTempHome(t)
	td := newTestDeps("")
	seedSession(t, td, "Tuition fees?", "About 1000 leva.")

	if err := run(t, td, "sessions", "show", "@last"); err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"Title: Tuition fees?", "You", "Eda", "About 1000 leva."} {
		if !strings.Contains(td.stdout.String(), want) {
			t.Errorf("show output missing %q:\n%s", want, td.stdout.String())
		}
	}

	if err := run(t, td, "sessions", "rename", "1", "Fees", "2026"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := run(t, td, "sessions", "show", "1"); err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(td.stdout.String(), "Title: Fees 2026") {
		t.Errorf("show after rename:\n%s", td.stdout.String())
	}

	if err := run(t, td, "sessions", "export", "--format", "json", "@last"); err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(td.stdout.String(), `"title": "Fees 2026"`) {
		t.Errorf("json export:\n%s", td.stdout.String())
	}

	out := filepath.Join(t.TempDir(), "fees.yaml")
	if err := run(t, td, "sessions", "export", "--format", "yaml", "-o", out, "@last"); err != nil {
		t.Fatalf("export yaml: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "title: Fees 2026") {
		t.Errorf("yaml export:\n%s", data)
	}

	if err := run(t, td, "sessions", "export", "--format", "pdf", "@last"); err == nil {
		t.Error("expected error for unknown format")
	}

	if err := run(t, td, "sessions", "delete", "@last"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := run(t, td, "sessions", "list"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(td.stdout.String(), "No conversations found.") {
		t.Errorf("list after delete:\n%s", td.stdout.String())
	}
}

func TestSessions_Clear(t *testing.T) {
	useTempHome(t)
	td := newTestDeps("")
	seedSession(t, td, "Hello", "Hi there")

	if err := run(t, td, "sessions", "clear"); err == nil {
		t.Fatal("expected clear without --yes to fail")
	}
	if err := run(t, td, "sessions", "clear", "--yes"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := run(t, td, "sessions", "list"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(td.stdout.String(), "No conversations found.") {
		t.Errorf("list after clear:\n%s", td.stdout.String())
	}
}

func TestSessions_UnknownReference(t *testing.T) {
	useTempHome(t)
	td := newTestDeps("")

	if err := run(t, td, "sessions", "show", "chat-missing"); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestConfig_SetShowPath(t *testing.T) {
	home := useTempHome(t)
	td := newTestDeps("")

	if err := run(t, td, "config", "path"); err != nil {
		t.Fatalf("path: %v", err)
	}
	if got := strings.TrimSpace(td.stdout.String()); got != filepath.Join(home, "config.json") {
		t.Errorf("path = %q", got)
	}

	if err := run(t, td, "config", "set", "auth_token", "supersecrettoken"); err != nil {
		t.Fatalf("set auth_token: %v", err)
	}
	if err := run(t, td, "config", "set", "log_level", "DEBUG"); err != nil {
		t.Fatalf("set log_level: %v", err)
	}
	if err := run(t, td, "config", "set", "log_level", "loud"); err == nil {
		t.Error("expected error for invalid log level")
	}
	if err := run(t, td, "config", "set", "colour", "blue"); err == nil {
		t.Error("expected error for unknown key")
	}

	cfg, err := config.LoadFile()
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.AuthToken != "supersecrettoken" || cfg.LogLevel != "debug" {
		t.Errorf("saved config = %+v", cfg)
	}

	if err := run(t, td, "config", "show"); err != nil {
		t.Fatalf("show: %v", err)
	}
	out := td.stdout.String()
	if strings.Contains(out, "supersecrettoken") {
		t.Errorf("show leaked the token:\n%s", out)
	}
	if !strings.Contains(out, "supe…oken") {
		t.Errorf("show output:\n%s", out)
	}
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "********"},
		{"abcdefghijkl", "abcd…ijkl"},
	}
	for _, tt := range tests {
		if got := maskToken(tt.in); got != tt.want {
			t.Errorf("maskToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChat_RunsTUI(t *testing.T) {
	home := useTempHome(t)
	td := newTestDeps("")

	if err := run(t, td, "chat"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if td.tui.chatCalls != 1 {
		t.Fatalf("RunChat calls = %d, want 1", td.tui.chatCalls)
	}
	if td.tui.nav == nil {
		t.Error("navigator not passed to the TUI")
	}
	if td.tui.current != "" {
		t.Errorf("current = %q, want new conversation", td.tui.current)
	}
	if td.tui.markdown.Width != 80 {
		t.Errorf("markdown width = %d, want 80", td.tui.markdown.Width)
	}
	if td.tui.picked {
		t.Error("picker shown without --pick")
	}
	if _, err := os.Stat(filepath.Join(home, "eda.log")); err != nil {
		t.Errorf("log file: %v", err)
	}
}

func TestChat_ResumesAndPicks(t *testing.T) {
	useTempHome(t)
	td := newTestDeps("")
	seedSession(t, td, "Dorms?", "Yes, there are dorms.")

	if err := run(t, td, "chat", "@last"); err != nil {
		t.Fatalf("chat @last: %v", err)
	}
	resumed := td.tui.current
	if resumed == "" {
		t.Fatal("chat @last did not select a session")
	}

	td.tui.pickID, td.tui.pickOK = resumed, true
	td.tui.current = ""
	if err := run(t, td, "chat", "--pick"); err != nil {
		t.Fatalf("chat --pick: %v", err)
	}
	if !td.tui.picked {
		t.Error("picker not shown")
	}
	if td.tui.current != resumed {
		t.Errorf("current = %q, want %q", td.tui.current, resumed)
	}

	calls := td.tui.chatCalls
	td.tui.pickOK = false
	if err := run(t, td, "chat", "--pick"); err != nil {
		t.Fatalf("chat --pick cancelled: %v", err)
	}
	if td.tui.chatCalls != calls {
		t.Error("chat started after the picker was dismissed")
	}
}

func TestSetup_RejectsBadURL(t *testing.T) {
	useTempHome(t)
	td := newTestDeps("")

	err := run(t, td, "--ai-url", "localhost:8000", "hello")
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("err = %v, want invalid configuration", err)
	}
}

func TestFormatErrorMessage(t *testing.T) {
	if got := formatErrorMessage(nil); got != "" {
		t.Errorf("formatErrorMessage(nil) = %q", got)
	}

	tests := []struct {
		name  string
		err   error
		wants []string
	}{
		{
			name:  "plain",
			err:   errors.New("boom"),
			wants: []string{"boom"},
		},
		{
			name:  "http status",
			err:   apierrors.NewAPIError(http.StatusBadGateway, "/chat", "bad gateway"),
			wants: []string{"HTTP Status: 502"},
		},
		{
			name:  "auth",
			err:   apierrors.NewAuthError("token rejected"),
			wants: []string{"auth_token"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatErrorMessage(tt.err)
			for _, want := range tt.wants {
				if !strings.Contains(got, want) {
					t.Errorf("formatErrorMessage = %q, missing %q", got, want)
				}
			}
		})
	}
}

func TestSpinner_HaltIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	s := newSpinner(&buf, "Eda is typing")
	s.start()
	s.halt()
	s.halt()

	if !strings.HasSuffix(buf.String(), "\033[?25h") {
		t.Errorf("cursor not restored: %q", buf.String())
	}
}

func TestSelectSession(t *testing.T) {
	store := history.NewStore()
	ctx := context.Background()
	id, err := store.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := selectSession(ctx, store, ""); err != nil {
		t.Fatalf("selectSession(\"\"): %v", err)
	}
	if store.Current() != "" {
		t.Errorf("current = %q, want empty", store.Current())
	}
	if err := selectSession(ctx, store, "@last"); err != nil {
		t.Fatalf("selectSession(@last): %v", err)
	}
	if store.Current() != id {
		t.Errorf("current = %q, want %q", store.Current(), id)
	}
	if err := selectSession(ctx, store, "nope-nothing"); err == nil {
		t.Error("expected error for unknown reference")
	}
}

func TestQuery_VerboseSessionHint(t *testing.T) {
	useTempHome(t)
	td := newTestDeps("")
	td.ai.replies = [][]string{{"first"}, {"second"}}

	if err := run(t, td, "--verbose", "Hello"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !strings.Contains(td.stderr.String(), "new session") {
		t.Errorf("stderr = %q, want new session hint", td.stderr.String())
	}

	if err := run(t, td, "--verbose", "--session", "@last", "Again"); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if out := td.stderr.String(); strings.Contains(out, "new session") || !strings.Contains(out, "continue with --session") {
		t.Errorf("stderr = %q, want continued session hint", out)
	}
}
