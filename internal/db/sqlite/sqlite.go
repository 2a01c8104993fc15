// Package sqlite implements the canonical store on SQLite via the pure-Go
// modernc driver. The schema is managed by embedded goose migrations applied
// on open.
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"skylark/internal/core/posts"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// ErrUnsupportedScheme is returned for database URLs with a scheme other
// than sqlite.
var ErrUnsupportedScheme = errors.New("unsupported database URL scheme")

const (
	memoryDSN       = ":memory:"
	authorCacheSize = 4096
)

// Info describes an opened database.
type Info struct {
	Backend  string `json:"backend"`
	Database string `json:"database"`
	InMemory bool   `json:"in_memory"`
}

// Store implements posts.Store on a single SQLite database.
type Store struct {
	db        *sql.DB
	info      Info
	authorIDs *lru.TwoQueueCache[string, int64]
}

var _ posts.Store = (*Store)(nil)

// ParseURL maps a database URL to a SQLite DSN. Accepted forms: a bare
// filesystem path, "sqlite://:memory:", and "sqlite:///path/to/db". The
// empty string selects an in-memory database; any non-sqlite scheme is
// rejected.
func ParseURL(dbURL string) (string, error) {
	s := strings.TrimSpace(dbURL)
	if s == "" {
		return memoryDSN, nil
	}
	idx := strings.Index(s, "://")
	if idx < 0 {
		return s, nil
	}
	if scheme := s[:idx]; scheme != "sqlite" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	rest := s[idx+len("://"):]
	if rest == "" || rest == memoryDSN {
		return memoryDSN, nil
	}
	return rest, nil
}

// Open opens (creating if needed) the database at dbURL, applies pragmas and
// migrations, and returns the store.
func Open(dbURL string) (*Store, error) {
	dsn, err := ParseURL(dbURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and serializes
	// writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	cache, err := lru.New2Q[string, int64](authorCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("building author cache: %w", err)
	}

	return &Store{
		db: db,
		info: Info{
			Backend:  "sqlite",
			Database: dsn,
			InMemory: dsn == memoryDSN,
		},
		authorIDs: cache,
	}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Info reports backend and location details for the opened database.
func (s *Store) Info() Info { return s.info }

// DB exposes the underlying handle for tests and tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
