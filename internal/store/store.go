// Package store defines the narrow interface through which the writer
// reaches the primary case store, and helpers shared by its
// implementations.
package store

import (
	"context"
	"database/sql"
	"regexp"
	"sort"

	"golang.org/x/text/cases"

	"github.com/mesh-intelligence/casebuffer/pkg/types"
)

// Handle is an open connection to the primary store, owned by the caller.
// Queries use '?' placeholders; implementations rebind them for their
// dialect. Failures should be *types.StoreError values whose Transient flag
// marks busy or locked conditions.
type Handle interface {
	// Columns returns the column names of table. A missing table yields an
	// empty set, not an error.
	Columns(ctx context.Context, table string) (Columns, error)
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	// QueryRow runs a query expected to return at most one row. Errors are
	// deferred to Scan, which reports sql.ErrNoRows for an empty result.
	QueryRow(ctx context.Context, query string, args ...any) Row
}

// Row is a single query result. *sql.Row implements it.
type Row interface {
	Scan(dest ...any) error
}

// Columns is a set of column names, compared case-insensitively.
type Columns map[string]struct{}

// NewColumns builds a set from names.
func NewColumns(names ...string) Columns {
	c := make(Columns, len(names))
	for _, n := range names {
		c[Fold(n)] = struct{}{}
	}
	return c
}

// Has reports whether name is in the set.
func (c Columns) Has(name string) bool {
	_, ok := c[Fold(name)]
	return ok
}

// Names returns the folded names in sorted order.
func (c Columns) Names() []string {
	out := make([]string, 0, len(c))
	for n := range c {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Fold returns the case-folded form of a column or table name.
func Fold(name string) string {
	return cases.Fold().String(name)
}

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdent reports whether name can be used as an unquoted SQL identifier.
func ValidIdent(name string) bool {
	return identRE.MatchString(name)
}

// Wrap returns err as a *types.StoreError, or nil when err is nil.
func Wrap(op string, err error, transient bool) error {
	if err == nil {
		return nil
	}
	return &types.StoreError{Op: op, Err: err, Transient: transient}
}
