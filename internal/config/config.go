// Package config handles configuration for eda: a JSON file under ~/.eda,
// an optional .env file and EDA_* environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/diogo/eda/internal/history/blob"
)

// Environment variables that override the config file.
const (
	EnvHome           = "EDA_HOME"
	EnvAIURL          = "EDA_AI_URL"
	EnvServerURL      = "EDA_SERVER_URL"
	EnvAuthToken      = "EDA_AUTH_TOKEN"
	EnvStorageBackend = "EDA_STORAGE_BACKEND"
	EnvStorageDSN     = "EDA_STORAGE_DSN"
	EnvLogLevel       = "EDA_LOG_LEVEL"
)

// MarkdownConfig configures markdown rendering options
type MarkdownConfig struct {
	Style            string `json:"style"`              // "dark", "light", or path to JSON theme
	EnableEmoji      bool   `json:"enable_emoji"`       // Convert :emoji: to unicode
	PreserveNewLines bool   `json:"preserve_newlines"`  // Preserve original line breaks
	TableWrap        bool   `json:"table_wrap"`         // Enable word wrap in table cells
	InlineTableLinks bool   `json:"inline_table_links"` // Render links inline in tables
}

// StorageConfig selects where the local session list is kept
type StorageConfig struct {
	Backend string `json:"backend"`          // file, sqlite, redis or postgres
	Path    string `json:"path,omitempty"`   // directory (file) or database file (sqlite)
	DSN     string `json:"dsn,omitempty"`    // connection URL (redis, postgres)
	Prefix  string `json:"prefix,omitempty"` // key prefix (redis)
}

// Config represents the user configuration
type Config struct {
	// AIURL is the base URL of the completion service.
	AIURL string `json:"ai_url"`
	// ServerURL is the base URL of the persistence backend API.
	ServerURL string `json:"server_url"`
	// AuthToken is the backend bearer token. Without one the client runs
	// in guest mode with a single local session.
	AuthToken string `json:"auth_token,omitempty"`

	Storage  StorageConfig `json:"storage"`
	LogLevel string        `json:"log_level"`
	Verbose  bool          `json:"verbose"`

	CopyToClipboard bool   `json:"copy_to_clipboard"`
	FailureMessage  string `json:"failure_message,omitempty"`
	// StreamTimeout bounds a completion request in seconds. Zero means no limit.
	StreamTimeout int            `json:"stream_timeout,omitempty"`
	Markdown      MarkdownConfig `json:"markdown,omitempty"`
}

// DefaultMarkdownConfig returns the default markdown configuration
func DefaultMarkdownConfig() MarkdownConfig {
	return MarkdownConfig{
		Style:            "dark",
		EnableEmoji:      true,
		PreserveNewLines: true,
		TableWrap:        true,
		InlineTableLinks: false,
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		AIURL:     "http://localhost:8000",
		ServerURL: "http://localhost:8080/api",
		Storage:   StorageConfig{Backend: blob.BackendFile},
		LogLevel:  "warn",
		Markdown:  DefaultMarkdownConfig(),
	}
}

// Guest reports whether no backend token is configured.
func (c Config) Guest() bool {
	return strings.TrimSpace(c.AuthToken) == ""
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".eda"), nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist
func EnsureConfigDir() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}

	// 0o700: the directory holds the auth token and chat history
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.json"), nil
}

// GetLogPath returns the path of the log file used while the TUI owns the terminal
func GetLogPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "eda.log"), nil
}

// BlobConfig resolves the storage settings, filling in default paths
func (c Config) BlobConfig() (blob.Config, error) {
	bc := blob.Config{
		Backend: strings.ToLower(c.Storage.Backend),
		Path:    c.Storage.Path,
		DSN:     c.Storage.DSN,
		Prefix:  c.Storage.Prefix,
	}
	if bc.Path == "" && (bc.Backend == "" || bc.Backend == blob.BackendFile || bc.Backend == blob.BackendSQLite) {
		dir, err := GetConfigDir()
		if err != nil {
			return bc, err
		}
		if bc.Backend == blob.BackendSQLite {
			bc.Path = filepath.Join(dir, "eda.db")
		} else {
			bc.Path = filepath.Join(dir, "storage")
		}
	}
	return bc, nil
}

// LoadFile loads the configuration file without environment overrides
func LoadFile() (Config, error) {
	cfg := DefaultConfig()

	configPath, err := GetConfigPath()
	if err != nil {
		return cfg, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadConfig loads the configuration file, then .env and EDA_* overrides
func LoadConfig() (Config, error) {
	cfg, err := LoadFile()
	LoadDotEnv()
	return ApplyEnv(cfg), err
}

// LoadDotEnv reads .env from the working directory if present. Variables
// already set in the environment win.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// ApplyEnv returns cfg with EDA_* environment overrides applied
func ApplyEnv(cfg Config) Config {
	cfg.AIURL = getEnv(EnvAIURL, cfg.AIURL)
	cfg.ServerURL = getEnv(EnvServerURL, cfg.ServerURL)
	cfg.AuthToken = getEnv(EnvAuthToken, cfg.AuthToken)
	cfg.Storage.Backend = getEnv(EnvStorageBackend, cfg.Storage.Backend)
	cfg.Storage.DSN = getEnv(EnvStorageDSN, cfg.Storage.DSN)
	cfg.LogLevel = getEnv(EnvLogLevel, cfg.LogLevel)
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// SaveConfig saves the configuration to disk
func SaveConfig(cfg Config) error {
	configDir, err := EnsureConfigDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(configDir, "config.json")

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0o600: the file may contain the auth token
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks URLs, the storage backend and the log level
func (c Config) Validate() error {
	for name, raw := range map[string]string{"ai_url": c.AIURL, "server_url": c.ServerURL} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s must be an http(s) URL, got %q", name, raw)
		}
	}
	if !blob.ValidBackend(strings.ToLower(c.Storage.Backend)) {
		return fmt.Errorf("unknown storage backend %q (use %s)", c.Storage.Backend, strings.Join(blob.Backends, ", "))
	}
	if c.LogLevel != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
			return fmt.Errorf("invalid log level %q", c.LogLevel)
		}
	}
	if c.StreamTimeout < 0 {
		return fmt.Errorf("stream_timeout cannot be negative")
	}
	return nil
}

// setters maps the keys accepted by Set to their field writers
var setters = map[string]func(*Config, string) error{
	"ai_url":            func(c *Config, v string) error { c.AIURL = v; return nil },
	"server_url":        func(c *Config, v string) error { c.ServerURL = v; return nil },
	"auth_token":        func(c *Config, v string) error { c.AuthToken = v; return nil },
	"storage.backend":   func(c *Config, v string) error { c.Storage.Backend = strings.ToLower(v); return nil },
	"storage.path":      func(c *Config, v string) error { c.Storage.Path = v; return nil },
	"storage.dsn":       func(c *Config, v string) error { c.Storage.DSN = v; return nil },
	"storage.prefix":    func(c *Config, v string) error { c.Storage.Prefix = v; return nil },
	"log_level":         func(c *Config, v string) error { c.LogLevel = strings.ToLower(v); return nil },
	"failure_message":   func(c *Config, v string) error { c.FailureMessage = v; return nil },
	"markdown.style":    func(c *Config, v string) error { c.Markdown.Style = v; return nil },
	"verbose":           boolSetter(func(c *Config, b bool) { c.Verbose = b }),
	"copy_to_clipboard": boolSetter(func(c *Config, b bool) { c.CopyToClipboard = b }),
	"stream_timeout":    setStreamTimeout,
}

func setStreamTimeout(c *Config, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("stream_timeout must be a number of seconds")
	}
	c.StreamTimeout = n
	return nil
}

func boolSetter(set func(*Config, bool)) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("expected true or false, got %q", v)
		}
		set(c, b)
		return nil
	}
}

// Keys returns the keys accepted by Set, sorted
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set assigns value to the field named by key and validates the result
func Set(cfg *Config, key, value string) error {
	set, ok := setters[strings.ToLower(key)]
	if !ok {
		return fmt.Errorf("unknown config key %q (valid keys: %s)", key, strings.Join(Keys(), ", "))
	}
	next := *cfg
	if err := set(&next, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*cfg = next
	return nil
}
