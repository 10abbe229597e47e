// Package blob provides key/value storage for serialized session lists.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("blob: key not found")

// Store persists opaque values under string keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Supported backend names.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Backends lists every backend name accepted by Open.
var Backends = []string{BackendFile, BackendSQLite, BackendRedis, BackendPostgres}

// Config selects and parameterizes a backend.
type Config struct {
	Backend string
	// Path is the directory for the file backend or the database file for sqlite.
	Path string
	// DSN is the connection URL for redis and postgres.
	DSN string
	// Prefix namespaces redis keys.
	Prefix string
}

// ValidBackend reports whether name is a known backend. Empty means file.
func ValidBackend(name string) bool {
	if name == "" {
		return true
	}
	for _, b := range Backends {
		if b == name {
			return true
		}
	}
	return false
}

// Open creates the Store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendFile:
		return NewFileStore(cfg.Path)
	case BackendSQLite:
		return NewSQLiteStore(ctx, cfg.Path)
	case BackendRedis:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("redis storage requires a dsn")
		}
		return NewRedisStore(ctx, cfg.DSN, cfg.Prefix)
	case BackendPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres storage requires a dsn")
		}
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
