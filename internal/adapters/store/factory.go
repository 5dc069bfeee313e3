package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DefaultSQLitePath is used when the sqlite driver is selected without a DSN.
const DefaultSQLitePath = ".runner/runner.db"

// Options configures store creation.
type Options struct {
	// Driver selects the backend: sqlite (default), postgres or memory.
	Driver string
	// DSN is the database file path for sqlite or the connection URL for postgres.
	DSN string
	// MaxOpenConns caps the postgres pool. Ignored by other drivers.
	MaxOpenConns int
}

// Open creates the RunStore selected by opts.
func Open(ctx context.Context, opts Options) (core.RunStore, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverSQLite:
		path := opts.DSN
		if path == "" {
			path = DefaultSQLitePath
		}
		return NewSQLiteStore(ctx, path)
	case DriverPostgres, "pgx", "postgresql":
		return NewPostgresStore(ctx, PostgresConfig{URL: opts.DSN, MaxOpenConns: opts.MaxOpenConns})
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, core.ErrValidation("INVALID_DRIVER", fmt.Sprintf("unknown store driver %q", opts.Driver))
	}
}
