// Package writer applies queue entries to the primary case store, adapting
// each statement to the columns the store actually has.
package writer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/casebuffer/internal/logging"
	"github.com/mesh-intelligence/casebuffer/internal/store"
	"github.com/mesh-intelligence/casebuffer/pkg/types"
)

// Default table names.
const (
	DefaultCaseTable  = "cases"
	DefaultAuditTable = "audit_log"
)

// Audit record values written after a buffered delete.
const (
	AuditActionDelete = "case_delete"
	AuditEntityCase   = "case"
	AuditSource       = "offline_buffer"
)

// Device column names, newest first.
var deviceColumns = []string{"device_name", "device"}

// Writer turns entries into store statements.
type Writer struct {
	log        logging.Logger
	caseTable  string
	auditTable string
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the logger. The default discards output.
func WithLogger(l logging.Logger) Option {
	return func(w *Writer) { w.log = l }
}

// WithCaseTable overrides the case table name.
func WithCaseTable(name string) Option {
	return func(w *Writer) { w.caseTable = name }
}

// WithAuditTable overrides the audit table name.
func WithAuditTable(name string) Option {
	return func(w *Writer) { w.auditTable = name }
}

// New returns a Writer. Table names must be plain SQL identifiers.
func New(opts ...Option) (*Writer, error) {
	w := &Writer{
		log:        logging.Discard(),
		caseTable:  DefaultCaseTable,
		auditTable: DefaultAuditTable,
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, name := range []string{w.caseTable, w.auditTable} {
		if !store.ValidIdent(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return w, nil
}

// Apply writes e to the store behind h. Entries missing identifying fields
// fail with types.ErrValidation before the store is touched. A case table
// without a usable device column fails with types.ErrSchemaMismatch. Store
// failures are returned as produced by the handle.
func (w *Writer) Apply(ctx context.Context, h store.Handle, e types.Entry) error {
	e = deref(e)
	if err := Validate(e); err != nil {
		return err
	}

	cols, err := h.Columns(ctx, w.caseTable)
	if err != nil {
		return fmt.Errorf("read columns of %s: %w", w.caseTable, err)
	}
	if len(cols) == 0 {
		return fmt.Errorf("%w: table %s not found", types.ErrSchemaMismatch, w.caseTable)
	}

	switch e := e.(type) {
	case types.InsertCase:
		return w.insert(ctx, h, cols, e)
	case types.UpdateCase:
		return w.update(ctx, h, cols, e)
	case types.DeleteCase:
		return w.delete(ctx, h, cols, e)
	default:
		return fmt.Errorf("%w: %T", types.ErrUnknownEntryType, e)
	}
}

// Validate checks the identifying fields of e.
func Validate(e types.Entry) error {
	switch e := deref(e).(type) {
	case types.InsertCase:
		if !e.Clinic.NonEmpty() {
			return fmt.Errorf("%w: %s requires clinic", types.ErrValidation, e.Kind())
		}
		if !e.DeviceValue().NonEmpty() {
			return fmt.Errorf("%w: %s requires device_name", types.ErrValidation, e.Kind())
		}
	case types.UpdateCase:
		if e.ID == nil {
			return fmt.Errorf("%w: %s requires id", types.ErrValidation, e.Kind())
		}
	case types.DeleteCase:
		if e.ID == nil {
			return fmt.Errorf("%w: %s requires id", types.ErrValidation, e.Kind())
		}
	case nil:
		return fmt.Errorf("%w: nil entry", types.ErrUnknownEntryType)
	default:
		return fmt.Errorf("%w: %T", types.ErrUnknownEntryType, e)
	}
	return nil
}

func deref(e types.Entry) types.Entry {
	switch p := e.(type) {
	case *types.InsertCase:
		if p != nil {
			return *p
		}
	case *types.UpdateCase:
		if p != nil {
			return *p
		}
	case *types.DeleteCase:
		if p != nil {
			return *p
		}
	default:
		return e
	}
	return nil
}

type assignment struct {
	column string
	value  types.Field
}

// deviceColumn returns the first device column cols has, or "".
func deviceColumn(cols store.Columns) string {
	for _, name := range deviceColumns {
		if cols.Has(name) {
			return name
		}
	}
	return ""
}

func (w *Writer) insert(ctx context.Context, h store.Handle, cols store.Columns, e types.InsertCase) error {
	deviceCol := deviceColumn(cols)
	if deviceCol == "" {
		return fmt.Errorf("%w: table %s has none of the device columns %s",
			types.ErrSchemaMismatch, w.caseTable, strings.Join(deviceColumns, ", "))
	}

	// Null and absent are the same for a new row: the column default applies.
	var names []string
	var args []any
	for _, a := range insertAssignments(e, deviceCol) {
		v, ok := a.value.Value()
		if !ok || !cols.Has(a.column) {
			continue
		}
		names = append(names, a.column)
		args = append(args, v)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		w.caseTable, strings.Join(names, ", "), placeholders(len(names)))
	if _, err := h.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	w.log.Debug(ctx, "case inserted", "queue_id", e.QueueID, "columns", len(names))
	return nil
}

func insertAssignments(e types.InsertCase, deviceCol string) []assignment {
	return []assignment{
		{"clinic", e.Clinic},
		{deviceCol, e.DeviceValue()},
		{"wave_number", e.WaveNumber},
		{"submitter", e.Submitter},
		{"service_provider", e.ServiceProvider},
		{"status", e.Status},
		{"reason", e.Reason},
		{"date_submitted", e.DateSubmitted},
		{"date_returned", e.DateReturned},
		{"notes", e.Notes},
		{"created_by", e.CreatedBy},
	}
}

func (w *Writer) update(ctx context.Context, h store.Handle, cols store.Columns, e types.UpdateCase) error {
	candidates := []assignment{
		{"status", e.Status},
		{"date_returned", e.DateReturned},
		{"closed_by", e.ClosedBy},
	}

	var set []string
	var args []any
	for _, a := range candidates {
		if !a.value.Present() || !cols.Has(a.column) {
			continue
		}
		set = append(set, a.column+" = ?")
		args = append(args, a.value.Arg())
	}
	if len(set) == 0 {
		w.log.Debug(ctx, "update has no applicable columns", "queue_id", e.QueueID, "id", int64(*e.ID))
		return nil
	}
	args = append(args, int64(*e.ID))

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", w.caseTable, strings.Join(set, ", "))
	res, err := h.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update case %d: %w", *e.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		w.log.Warn(ctx, "update matched no case", "queue_id", e.QueueID, "id", int64(*e.ID))
	}
	return nil
}

func (w *Writer) delete(ctx context.Context, h store.Handle, cols store.Columns, e types.DeleteCase) error {
	id := int64(*e.ID)
	auditCols := w.auditColumns(ctx, h)
	var preview map[string]*string
	if auditCols != nil {
		preview = w.preview(ctx, h, cols, id)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", w.caseTable)
	res, err := h.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete case %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		w.log.Warn(ctx, "delete matched no case", "queue_id", e.QueueID, "id", id)
		return nil
	}
	if auditCols != nil {
		w.audit(ctx, h, auditCols, e, preview)
	}
	return nil
}

// auditColumns returns the audit table columns, or nil when deletes cannot
// be audited.
func (w *Writer) auditColumns(ctx context.Context, h store.Handle) store.Columns {
	cols, err := h.Columns(ctx, w.auditTable)
	if err != nil {
		w.log.Warn(ctx, "audit table unreadable", "table", w.auditTable, "error", err)
		return nil
	}
	if !cols.Has("action") {
		return nil
	}
	return cols
}

// preview reads the identifying fields of the case about to be deleted. It
// returns nil if the row is gone or cannot be read.
func (w *Writer) preview(ctx context.Context, h store.Handle, cols store.Columns, id int64) map[string]*string {
	keys := []string{"clinic", "device_name", "wave_number"}
	selects := []string{"clinic", deviceColumn(cols), "wave_number"}

	var names []string
	var used []string
	for i, col := range selects {
		if col != "" && cols.Has(col) {
			names = append(names, col)
			used = append(used, keys[i])
		}
	}
	if len(names) == 0 {
		return nil
	}

	vals := make([]sql.NullString, len(names))
	dest := make([]any, len(names))
	for i := range vals {
		dest[i] = &vals[i]
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", strings.Join(names, ", "), w.caseTable)
	if err := h.QueryRow(ctx, query, id).Scan(dest...); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			w.log.Warn(ctx, "audit preview unreadable", "id", id, "error", err)
		}
		return nil
	}

	preview := make(map[string]*string, len(keys))
	for _, k := range keys {
		preview[k] = nil
	}
	for i, k := range used {
		if vals[i].Valid {
			preview[k] = &vals[i].String
		}
	}
	return preview
}

type auditDetails struct {
	ID        int64              `json:"id"`
	DeletedBy types.Field        `json:"deleted_by"`
	Source    string             `json:"source"`
	Preview   map[string]*string `json:"preview"`
}

// audit records a delete in the audit table. Failures are logged only; the
// delete has already been committed.
func (w *Writer) audit(ctx context.Context, h store.Handle, cols store.Columns, e types.DeleteCase, preview map[string]*string) {
	details, err := json.Marshal(auditDetails{
		ID:        int64(*e.ID),
		DeletedBy: e.DeletedBy,
		Source:    AuditSource,
		Preview:   preview,
	})
	if err != nil {
		w.log.Warn(ctx, "encode audit details", "error", err)
		return
	}
	candidates := []struct {
		column string
		value  any
	}{
		{"action", AuditActionDelete},
		{"entity", AuditEntityCase},
		{"entity_id", int64(*e.ID)},
		{"details", string(details)},
	}

	var names []string
	var args []any
	for _, c := range candidates {
		if cols.Has(c.column) {
			names = append(names, c.column)
			args = append(args, c.value)
		}
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		w.auditTable, strings.Join(names, ", "), placeholders(len(names)))
	if _, err := h.Exec(ctx, query, args...); err != nil {
		w.log.Warn(ctx, "audit insert failed", "queue_id", e.QueueID, "id", int64(*e.ID), "error", err)
	}
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
