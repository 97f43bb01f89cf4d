// Package sqlite implements store.Handle on a SQLite case database using the
// pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mesh-intelligence/casebuffer/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Options tune a database opened with Open.
type Options struct {
	// BusyTimeout is how long SQLite waits on a lock before reporting
	// SQLITE_BUSY. Zero fails immediately.
	BusyTimeout time.Duration
	// Create allows Open to create a missing database file and its
	// directory. Without it a missing file is ErrNotFound.
	Create bool
}

// ErrNotFound is returned by Open when the database file does not exist
// and Options.Create is not set.
var ErrNotFound = errors.New("database does not exist")

// Handle is a SQLite case store.
type Handle struct {
	db    *sql.DB
	owned bool
}

var _ store.Handle = (*Handle)(nil)

// Open opens the database at path, creating it only when opts.Create is
// set. The connection pool is limited to one connection because SQLite
// allows a single writer.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - the configured busy timeout
//   - foreign key enforcement
func Open(path string, opts Options) (*Handle, error) {
	if opts.Create {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	} else if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, store.Wrap("connect", fmt.Errorf("%w: %s", ErrNotFound, path), false)
		}
		return nil, store.Wrap("connect", err, false)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, classify("connect", err)
	}
	if err := applyPragmas(db, opts.BusyTimeout); err != nil {
		db.Close()
		return nil, err
	}
	return &Handle{db: db, owned: true}, nil
}

// New wraps an existing pool. Close leaves it open.
func New(db *sql.DB) *Handle {
	return &Handle{db: db}
}

func applyPragmas(db *sql.DB, busy time.Duration) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return classify(fmt.Sprintf("execute %q", pragma), err)
		}
	}
	return nil
}

// DB returns the underlying pool.
func (h *Handle) DB() *sql.DB { return h.db }

// Close closes the pool if Open created it.
func (h *Handle) Close() error {
	if h.db == nil || !h.owned {
		return nil
	}
	return h.db.Close()
}

// EnsureSchema creates the case tables that do not exist yet. It does not
// alter existing tables.
func (h *Handle) EnsureSchema(ctx context.Context) error {
	if _, err := h.db.ExecContext(ctx, schemaSQL); err != nil {
		return classify("ensure schema", err)
	}
	return nil
}

// Columns implements store.Handle using pragma_table_info.
func (h *Handle) Columns(ctx context.Context, table string) (store.Columns, error) {
	rows, err := h.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, classify("table info "+table, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classify("table info "+table, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("table info "+table, err)
	}
	return store.NewColumns(names...), nil
}

// Exec implements store.Handle.
func (h *Handle) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := h.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, classify("exec", err)
	}
	return res, nil
}

// QueryRow implements store.Handle.
func (h *Handle) QueryRow(ctx context.Context, query string, args ...any) store.Row {
	return h.db.QueryRowContext(ctx, query, args...)
}

func classify(op string, err error) error {
	return store.Wrap(op, err, IsBusy(err))
}

// IsBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED, including
// their extended codes.
func IsBusy(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}
