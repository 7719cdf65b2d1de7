// Package database opens the dispatcher's SQL store: Postgres when a
// DATABASE_URL is configured, otherwise SQLite under the data directory.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq" // Postgres Driver
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DB is a connection pool paired with its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Options controls Open.
type Options struct {
	// URL is a Postgres connection string. Empty selects SQLite.
	URL string
	// DataDir holds the SQLite file in lite mode.
	DataDir string
	// FileName overrides the SQLite file name.
	FileName string
}

// Open connects and pings the configured database.
func Open(ctx context.Context, opts Options) (*DB, error) {
	if opts.URL != "" {
		db, err := sql.Open("postgres", opts.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		return &DB{DB: db, Dialect: DialectPostgres}, nil
	}

	if opts.DataDir == "" {
		opts.DataDir = "data"
	}
	if opts.FileName == "" {
		opts.FileName = "dispatcher.db"
	}
	if err := os.MkdirAll(opts.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return OpenSQLite(ctx, filepath.Join(opts.DataDir, opts.FileName))
}

// OpenSQLite opens a SQLite file. Writes are serialized through a single
// connection; SQLite allows one writer at a time regardless.
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	return &DB{DB: db, Dialect: DialectSQLite}, nil
}

// Rebind rewrites ? placeholders into $n for Postgres.
func Rebind(d Dialect, query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
