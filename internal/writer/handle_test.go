package writer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/casebuffer/internal/store"
)

type execCall struct {
	query string
	args  []any
}

// fakeHandle records statements instead of running them.
type fakeHandle struct {
	tables       map[string]store.Columns
	columnsErr   error
	execErr      func(query string) error
	rowsAffected int64
	// row answers QueryRow; nil means no row.
	row      []any
	queryErr error

	columnCalls []string
	calls       []execCall
	queries     []execCall
	log         []execCall
}

func newFakeHandle(tables map[string]store.Columns) *fakeHandle {
	return &fakeHandle{tables: tables, rowsAffected: 1}
}

func (f *fakeHandle) Columns(_ context.Context, table string) (store.Columns, error) {
	f.columnCalls = append(f.columnCalls, table)
	if f.columnsErr != nil {
		return nil, f.columnsErr
	}
	return f.tables[table], nil
}

func (f *fakeHandle) Exec(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.calls = append(f.calls, execCall{query: query, args: args})
	f.log = append(f.log, execCall{query: query, args: args})
	if f.execErr != nil {
		if err := f.execErr(query); err != nil {
			return nil, err
		}
	}
	return fakeResult(f.rowsAffected), nil
}

func (f *fakeHandle) QueryRow(_ context.Context, query string, args ...any) store.Row {
	f.queries = append(f.queries, execCall{query: query, args: args})
	f.log = append(f.log, execCall{query: query, args: args})
	switch {
	case f.queryErr != nil:
		return fakeRow{err: f.queryErr}
	case f.row == nil:
		return fakeRow{err: sql.ErrNoRows}
	}
	return fakeRow{values: f.row}
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(r.values))
	}
	for i, d := range dest {
		sc, ok := d.(sql.Scanner)
		if !ok {
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
		if err := sc.Scan(r.values[i]); err != nil {
			return err
		}
	}
	return nil
}

// transcript renders the recorded statements for golden comparison.
func (f *fakeHandle) transcript() []byte {
	var b strings.Builder
	for _, c := range f.log {
		b.WriteString(c.query)
		b.WriteByte('\n')
		for i, a := range c.args {
			fmt.Fprintf(&b, "  $%d = %#v\n", i+1, a)
		}
	}
	return []byte(b.String())
}

type fakeResult int64

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return int64(r), nil }

var currentCaseColumns = store.NewColumns(
	"id", "clinic", "device_name", "wave_number", "submitter", "service_provider",
	"status", "reason", "date_submitted", "date_returned", "created_by", "closed_by", "notes",
)

var auditColumns = store.NewColumns("id", "ts", "user_id", "action", "entity", "entity_id", "details")
