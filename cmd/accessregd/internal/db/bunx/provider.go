package bunx

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite" // SQLite driver
)

// DatabaseType represents the type of database
type DatabaseType string

const (
	DatabaseTypePostgreSQL DatabaseType = "postgres"
	DatabaseTypeSQLite     DatabaseType = "sqlite"
)

// DefaultMaxConns is the PostgreSQL pool size used when Options.MaxConns is unset.
const DefaultMaxConns = 25

// Options configures Open.
type Options struct {
	DSN string

	// MaxConns caps the PostgreSQL pool. SQLite always uses a single connection.
	MaxConns int
}

// DetectDatabaseType determines the database type from a DSN string
func DetectDatabaseType(dsn string) DatabaseType {
	for _, prefix := range []string{"postgres://", "postgresql://", "unix://"} {
		if strings.HasPrefix(dsn, prefix) {
			return DatabaseTypePostgreSQL
		}
	}
	// SQLite patterns: file:, :memory:, or plain file path
	return DatabaseTypeSQLite
}

// NewDB opens a database with default pool settings.
func NewDB(dsn string) (*bun.DB, error) {
	return Open(context.Background(), Options{DSN: dsn})
}

// Open creates a Bun database for PostgreSQL or SQLite based on the DSN and
// verifies connectivity.
func Open(ctx context.Context, opts Options) (*bun.DB, error) {
	if opts.MaxConns <= 0 {
		opts.MaxConns = DefaultMaxConns
	}

	switch DetectDatabaseType(opts.DSN) {
	case DatabaseTypePostgreSQL:
		return openPostgreSQL(ctx, opts)
	case DatabaseTypeSQLite:
		return openSQLite(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported database type for DSN: %s", opts.DSN)
	}
}

func openPostgreSQL(ctx context.Context, opts Options) (*bun.DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(opts.DSN)))
	sqldb.SetMaxOpenConns(opts.MaxConns)
	sqldb.SetMaxIdleConns(opts.MaxConns)

	db := bun.NewDB(sqldb, pgdialect.New())
	if err := db.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// openSQLite uses the modernc.org/sqlite driver with a single connection.
// Every query, including those issued inside a transaction, must go through
// the same handle or it will wait forever on the pool.
func openSQLite(ctx context.Context, opts Options) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			sqldb.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func Close(db *bun.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
