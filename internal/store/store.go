// Package store provides the durable local state behind reconciliation:
// cached records, delivery links, per-mapping sync state, and the
// append-only operation log.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "postgres"
)

// Store wraps one relational database holding all local state. SQLite is
// the default backend; postgres is selected by DSN scheme.
type Store struct {
	db     *sql.DB
	driver string
}

// Open creates or opens the store for the given DSN.
//
// Supported DSN forms:
//   - bare path or file:path for a SQLite database file
//   - memory: for in-process SQLite, used by tests
//   - postgres:// or postgresql:// for postgres via lib/pq
func Open(dsn string) (*Store, error) {
	driver, dataSource, err := resolveDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dataSource)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == driverSQLite {
		// SQLite supports one writer at a time; a single pooled
		// connection avoids SQLITE_BUSY under concurrent triggers.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	s := &Store{db: db, driver: driver}
	if err := s.applySchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// resolveDSN maps a DSN onto a database/sql driver and data source.
func resolveDSN(dsn string) (driver, dataSource string, err error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", "", fmt.Errorf("database dsn is required")
	}

	parsed, parseErr := url.Parse(dsn)
	scheme := ""
	if parseErr == nil {
		scheme = strings.ToLower(parsed.Scheme)
	}

	switch scheme {
	case "postgres", "postgresql":
		return driverPostgres, dsn, nil
	case "memory", "mem":
		return driverSQLite, ":memory:", nil
	case "file":
		path := strings.TrimPrefix(dsn, "file:")
		if path == "" {
			return "", "", fmt.Errorf("file dsn is missing a path")
		}
		return driverSQLite, path, nil
	case "":
		return driverSQLite, dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported database scheme: %s", scheme)
	}
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables on first open. Statements are idempotent, so
// reopening an existing database is safe.
func (s *Store) applySchema() error {
	for _, statement := range strings.Split(schemaSQL, ";") {
		statement = strings.TrimSpace(statement)
		if statement == "" {
			continue
		}
		if _, err := s.db.Exec(statement); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to the $N form postgres expects. Queries
// in this package are written once with ? and rebound per driver.
func (s *Store) rebind(query string) string {
	if s.driver != driverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
