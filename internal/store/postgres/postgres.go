// Package postgres implements store.Handle on a PostgreSQL case database
// through the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/mesh-intelligence/casebuffer/internal/store"
)

const driverName = "pgx"

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Handle is a PostgreSQL case store.
type Handle struct {
	db    *sql.DB
	owned bool
}

var _ store.Handle = (*Handle)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Handle, error) {
	openMu.Lock()
	db, err := sqlOpen(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classify("connect", err)
	}
	return &Handle{db: db, owned: true}, nil
}

// New wraps an existing pool. Close leaves it open.
func New(db *sql.DB) *Handle {
	return &Handle{db: db}
}

// Close closes the pool if Open created it.
func (h *Handle) Close() error {
	if h.db == nil || !h.owned {
		return nil
	}
	return h.db.Close()
}

const columnsQuery = `SELECT column_name FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1`

// Columns implements store.Handle. Only the current schema is searched.
func (h *Handle) Columns(ctx context.Context, table string) (store.Columns, error) {
	rows, err := h.db.QueryContext(ctx, columnsQuery, strings.ToLower(table))
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

// Exec implements store.Handle, rewriting '?' placeholders to $n.
func (h *Handle) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := h.db.ExecContext(ctx, Rebind(query), args...)
	if err != nil {
		return nil, classify("exec", err)
	}
	return res, nil
}

// QueryRow implements store.Handle.
func (h *Handle) QueryRow(ctx context.Context, query string, args ...any) store.Row {
	return h.db.QueryRowContext(ctx, Rebind(query), args...)
}

// Rebind replaces each '?' outside single-quoted literals with $1, $2, ...
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			quoted = !quoted
			b.WriteByte(c)
		case c == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Contention and availability SQLSTATEs that clear up on their own.
var transientCodes = map[string]bool{
	"55P03": true, // lock_not_available
	"40P01": true, // deadlock_detected
	"40001": true, // serialization_failure
	"53300": true, // too_many_connections
	"57P03": true, // cannot_connect_now
}

// IsTransient reports whether err is a lock, contention, or connection
// failure that a later attempt may not hit.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientCodes[pgErr.Code] || strings.HasPrefix(pgErr.Code, "08")
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return errors.Is(err, driver.ErrBadConn)
}

func classify(op string, err error) error {
	return store.Wrap(op, err, IsTransient(err))
}
