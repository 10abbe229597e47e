package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		verbose bool
		want    zerolog.Level
		wantErr bool
	}{
		{"default", "", false, zerolog.InfoLevel, false},
		{"verbose default", "", true, zerolog.DebugLevel, false},
		{"explicit warn", "WARN", false, zerolog.WarnLevel, false},
		{"verbose lowers warn", "warn", true, zerolog.DebugLevel, false},
		{"verbose keeps trace", "trace", true, zerolog.TraceLevel, false},
		{"invalid", "chatty", false, zerolog.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLevel(tt.level, tt.verbose)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if got != tt.want {
				t.Errorf("level = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "info", Console: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closer.Close()

	logger.Debug().Msg("hidden")
	logger.Info().Str("session", "chat-1").Msg("turn finished")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug line should be filtered at info level")
	}
	if !strings.Contains(out, "turn finished") || !strings.Contains(out, "chat-1") {
		t.Errorf("output = %q", out)
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "eda.log")
	logger, closer, err := New(Options{File: path, Verbose: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug().Int("chunks", 3).Msg("completion stream finished")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimSpace(string(data))
	if gjson.Get(line, "message").String() != "completion stream finished" || gjson.Get(line, "chunks").Int() != 3 {
		t.Errorf("log line = %s", line)
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, _, err := New(Options{Level: "nope"}); err == nil {
		t.Error("expected error")
	}
}
