package writer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/casebuffer/internal/codec"
	"github.com/mesh-intelligence/casebuffer/internal/store"
	"github.com/mesh-intelligence/casebuffer/internal/store/sqlite"
	"github.com/mesh-intelligence/casebuffer/pkg/types"
)

func newWriter(t *testing.T, opts ...Option) *Writer {
	t.Helper()
	w, err := New(opts...)
	require.NoError(t, err)
	return w
}

func assertGolden(t *testing.T, name string, h *fakeHandle) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, h.transcript())
}

func TestApplyStatements(t *testing.T) {
	legacyColumns := store.NewColumns("id", "clinic", "device", "submitter", "status", "reason")
	olderColumns := store.NewColumns("id", "clinic", "device_name", "status", "date_returned")

	tests := []struct {
		name   string
		tables map[string]store.Columns
		row    []any
		entry  types.Entry
	}{
		{
			name:   "insert_full",
			tables: map[string]store.Columns{"cases": currentCaseColumns},
			entry: types.InsertCase{
				Clinic:          types.Text("Neuro"),
				DeviceName:      types.Text("Endoscope"),
				WaveNumber:      types.Text("W-12"),
				Submitter:       types.Text("A"),
				ServiceProvider: types.Text("Olympus"),
				Status:          types.Text("In Reparatur"),
				Reason:          types.Text("Lens cracked"),
				DateSubmitted:   types.Text("2024-03-01"),
				DateReturned:    types.Null(),
				Notes:           types.Text("fragile"),
				CreatedBy:       types.Text("A"),
			},
		},
		{
			name:   "insert_legacy_device",
			tables: map[string]store.Columns{"cases": legacyColumns},
			entry: types.InsertCase{
				Clinic:     types.Text("Neuro"),
				DeviceName: types.Text("Endoscope"),
				Submitter:  types.Text("A"),
				Notes:      types.Text("dropped, no column"),
				CreatedBy:  types.Text("A"),
			},
		},
		{
			name:   "update_partial",
			tables: map[string]store.Columns{"cases": olderColumns},
			entry: types.UpdateCase{
				ID:           types.ID(7),
				Status:       types.Text("Abgeschlossen"),
				DateReturned: types.Null(),
				ClosedBy:     types.Text("bob"),
			},
		},
		{
			name:   "delete_with_audit",
			tables: map[string]store.Columns{"cases": currentCaseColumns, "audit_log": auditColumns},
			row:    []any{"Neuro", "Endoscope", nil},
			entry:  types.DeleteCase{ID: types.ID(7), DeletedBy: types.Text("bob")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newFakeHandle(tt.tables)
			h.row = tt.row
			require.NoError(t, newWriter(t).Apply(context.Background(), h, tt.entry))
			assertGolden(t, tt.name, h)
		})
	}
}

func TestApplyValidation(t *testing.T) {
	tests := []struct {
		name  string
		entry types.Entry
	}{
		{"insert without clinic", types.InsertCase{DeviceName: types.Text("Endoscope")}},
		{"insert with blank clinic", types.InsertCase{Clinic: types.Text("  "), DeviceName: types.Text("Endoscope")}},
		{"insert without device", types.InsertCase{Clinic: types.Text("Neuro")}},
		{"insert with null device", types.InsertCase{Clinic: types.Text("Neuro"), DeviceName: types.Null()}},
		{"update without id", types.UpdateCase{Status: types.Text("Abgeschlossen")}},
		{"delete without id", types.DeleteCase{DeletedBy: types.Text("bob")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newFakeHandle(map[string]store.Columns{"cases": currentCaseColumns})

			err := newWriter(t).Apply(context.Background(), h, tt.entry)
			require.ErrorIs(t, err, types.ErrValidation)
			assert.False(t, types.IsTransient(err))
			assert.Empty(t, h.columnCalls, "store must not be touched")
			assert.Empty(t, h.calls)
		})
	}
}

func TestApplyLegacyDeviceAlias(t *testing.T) {
	tests := []struct {
		name  string
		entry types.InsertCase
	}{
		{"device_name absent", types.InsertCase{Clinic: types.Text("Neuro"), Device: types.Text("Infusomat")}},
		{"device_name null", types.InsertCase{Clinic: types.Text("Neuro"), DeviceName: types.Null(), Device: types.Text("Infusomat")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newFakeHandle(map[string]store.Columns{"cases": currentCaseColumns})

			require.NoError(t, newWriter(t).Apply(context.Background(), h, tt.entry))
			require.Len(t, h.calls, 1)
			assert.Equal(t, "INSERT INTO cases (clinic, device_name) VALUES (?, ?)", h.calls[0].query)
			assert.Equal(t, []any{"Neuro", "Infusomat"}, h.calls[0].args)
		})
	}
}

func TestApplyDecodedNullDeviceName(t *testing.T) {
	e, err := codec.Decode([]byte(`{"type":"insert_case","clinic":"Neuro","device_name":null,"device":"Endoscope"}`))
	require.NoError(t, err)
	h := newFakeHandle(map[string]store.Columns{"cases": currentCaseColumns})

	require.NoError(t, newWriter(t).Apply(context.Background(), h, e))
	require.Len(t, h.calls, 1)
	assert.Equal(t, []any{"Neuro", "Endoscope"}, h.calls[0].args)
}

func TestApplySchemaMismatch(t *testing.T) {
	ctx := context.Background()
	insert := types.InsertCase{Clinic: types.Text("Neuro"), DeviceName: types.Text("Endoscope")}

	t.Run("no device column", func(t *testing.T) {
		h := newFakeHandle(map[string]store.Columns{"cases": store.NewColumns("id", "clinic")})
		err := newWriter(t).Apply(ctx, h, insert)
		require.ErrorIs(t, err, types.ErrSchemaMismatch)
		assert.Empty(t, h.calls)
	})

	t.Run("missing case table", func(t *testing.T) {
		h := newFakeHandle(nil)
		err := newWriter(t).Apply(ctx, h, types.DeleteCase{ID: types.ID(1)})
		require.ErrorIs(t, err, types.ErrSchemaMismatch)
		assert.Empty(t, h.calls)
	})
}

func TestApplyIntrospectsOncePerCall(t *testing.T) {
	h := newFakeHandle(map[string]store.Columns{"cases": currentCaseColumns})
	w := newWriter(t)
	e := types.InsertCase{Clinic: types.Text("Neuro"), DeviceName: types.Text("Endoscope")}

	require.NoError(t, w.Apply(context.Background(), h, e))
	require.NoError(t, w.Apply(context.Background(), h, e))
	assert.Equal(t, []string{"cases", "cases"}, h.columnCalls)
}

func TestApplyUpdateNothingToDo(t *testing.T) {
	tests := []struct {
		name  string
		cols  store.Columns
		entry types.UpdateCase
	}{
		{"no fields", currentCaseColumns, types.UpdateCase{ID: types.ID(3)}},
		{"fields without columns", store.NewColumns("id", "clinic", "device"),
			types.UpdateCase{ID: types.ID(3), Status: types.Text("Abgeschlossen"), ClosedBy: types.Text("bob")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newFakeHandle(map[string]store.Columns{"cases": tt.cols})
			require.NoError(t, newWriter(t).Apply(context.Background(), h, tt.entry))
			assert.Empty(t, h.calls)
		})
	}
}

func TestApplyZeroRowsIsSuccess(t *testing.T) {
	ctx := context.Background()
	h := newFakeHandle(map[string]store.Columns{"cases": currentCaseColumns, "audit_log": auditColumns})
	h.rowsAffected = 0
	w := newWriter(t)

	require.NoError(t, w.Apply(ctx, h, types.UpdateCase{ID: types.ID(404), Status: types.Text("Abgeschlossen")}))
	require.NoError(t, w.Apply(ctx, h, types.DeleteCase{ID: types.ID(404)}))

	require.Len(t, h.calls, 2, "no audit record for a delete that matched nothing")
	assert.Equal(t, "DELETE FROM cases WHERE id = ?", h.calls[1].query)
}

func TestApplyDeleteAudit(t *testing.T) {
	ctx := context.Background()
	del := types.DeleteCase{ID: types.ID(9)}

	t.Run("no audit table", func(t *testing.T) {
		h := newFakeHandle(map[string]store.Columns{"cases": currentCaseColumns})
		require.NoError(t, newWriter(t).Apply(ctx, h, del))
		assert.Len(t, h.calls, 1)
	})

	t.Run("audit table without action column", func(t *testing.T) {
		h := newFakeHandle(map[string]store.Columns{
			"cases":     currentCaseColumns,
			"audit_log": store.NewColumns("id", "details"),
		})
		require.NoError(t, newWriter(t).Apply(ctx, h, del))
		assert.Len(t, h.calls, 1)
	})

	t.Run("narrow audit table", func(t *testing.T) {
		h := newFakeHandle(map[string]store.Columns{
			"cases":     currentCaseColumns,
			"audit_log": store.NewColumns("id", "action", "details"),
		})
		require.NoError(t, newWriter(t).Apply(ctx, h, del))
		require.Len(t, h.calls, 2)
		assert.Equal(t, "INSERT INTO audit_log (action, details) VALUES (?, ?)", h.calls[1].query)
		assert.Equal(t, []any{AuditActionDelete, `{"id":9,"deleted_by":null,"source":"offline_buffer","preview":null}`}, h.calls[1].args)
	})

	t.Run("preview of the deleted row", func(t *testing.T) {
		h := newFakeHandle(map[string]store.Columns{
			"cases":     store.NewColumns("id", "clinic", "device"),
			"audit_log": store.NewColumns("id", "action", "details"),
		})
		h.row = []any{"Ortho", "Arthroscope"}
		require.NoError(t, newWriter(t).Apply(ctx, h, del))

		require.Len(t, h.queries, 1)
		assert.Equal(t, "SELECT clinic, device FROM cases WHERE id = ?", h.queries[0].query)
		assert.Equal(t, []any{int64(9)}, h.queries[0].args)
		require.Len(t, h.calls, 2)
		assert.JSONEq(t,
			`{"id":9,"deleted_by":null,"source":"offline_buffer","preview":{"clinic":"Ortho","device_name":"Arthroscope","wave_number":null}}`,
			h.calls[1].args[1].(string))
	})

	t.Run("unreadable preview still audits", func(t *testing.T) {
		h := newFakeHandle(map[string]store.Columns{"cases": currentCaseColumns, "audit_log": auditColumns})
		h.queryErr = store.Wrap("query", errors.New("database is locked"), true)
		require.NoError(t, newWriter(t).Apply(ctx, h, del))

		require.Len(t, h.calls, 2)
		assert.Contains(t, h.calls[1].args[3], `"preview":null`)
	})

	t.Run("no preview without an audit table", func(t *testing.T) {
		h := newFakeHandle(map[string]store.Columns{"cases": currentCaseColumns})
		require.NoError(t, newWriter(t).Apply(ctx, h, del))
		assert.Empty(t, h.queries)
	})

	t.Run("audit failure is not returned", func(t *testing.T) {
		h := newFakeHandle(map[string]store.Columns{"cases": currentCaseColumns, "audit_log": auditColumns})
		h.execErr = func(q string) error {
			if q[:6] == "INSERT" {
				return store.Wrap("exec", errors.New("database is locked"), true)
			}
			return nil
		}
		require.NoError(t, newWriter(t).Apply(ctx, h, del))
		assert.Len(t, h.calls, 2)
	})
}

func TestApplyStoreErrors(t *testing.T) {
	ctx := context.Background()
	insert := types.InsertCase{Clinic: types.Text("Neuro"), DeviceName: types.Text("Endoscope")}

	t.Run("transient exec", func(t *testing.T) {
		h := newFakeHandle(map[string]store.Columns{"cases": currentCaseColumns})
		h.execErr = func(string) error { return store.Wrap("exec", errors.New("database is locked"), true) }

		err := newWriter(t).Apply(ctx, h, insert)
		require.Error(t, err)
		assert.True(t, types.IsTransient(err))
	})

	t.Run("permanent exec", func(t *testing.T) {
		h := newFakeHandle(map[string]store.Columns{"cases": currentCaseColumns})
		h.execErr = func(string) error { return store.Wrap("exec", errors.New("CHECK constraint failed"), false) }

		err := newWriter(t).Apply(ctx, h, insert)
		require.Error(t, err)
		assert.False(t, types.IsTransient(err))
	})

	t.Run("introspection failure", func(t *testing.T) {
		h := newFakeHandle(nil)
		h.columnsErr = store.Wrap("table info cases", errors.New("database is locked"), true)

		err := newWriter(t).Apply(ctx, h, insert)
		require.Error(t, err)
		assert.True(t, types.IsTransient(err))
		assert.Empty(t, h.calls)
	})
}

func TestApplyAcceptsPointerEntries(t *testing.T) {
	h := newFakeHandle(map[string]store.Columns{"cases": currentCaseColumns})
	e := &types.UpdateCase{ID: types.ID(2), Status: types.Text("Abgeschlossen")}

	require.NoError(t, newWriter(t).Apply(context.Background(), h, e))
	assert.Len(t, h.calls, 1)
}

func TestApplyNilEntry(t *testing.T) {
	h := newFakeHandle(map[string]store.Columns{"cases": currentCaseColumns})
	err := newWriter(t).Apply(context.Background(), h, nil)
	assert.ErrorIs(t, err, types.ErrUnknownEntryType)
}

func TestNewRejectsInvalidTableNames(t *testing.T) {
	_, err := New(WithCaseTable("cases; DROP TABLE cases"))
	assert.Error(t, err)
	_, err = New(WithAuditTable(""))
	assert.Error(t, err)

	w, err := New(WithCaseTable("repair_cases"), WithAuditTable("events"))
	require.NoError(t, err)
	h := newFakeHandle(map[string]store.Columns{"repair_cases": currentCaseColumns, "events": auditColumns})
	require.NoError(t, w.Apply(context.Background(), h, types.DeleteCase{ID: types.ID(1)}))
	require.Len(t, h.calls, 2)
	assert.Equal(t, "DELETE FROM repair_cases WHERE id = ?", h.calls[0].query)
	assert.Equal(t, "INSERT INTO events (action, entity, entity_id, details) VALUES (?, ?, ?, ?)", h.calls[1].query)
}

func TestApplyAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	h, err := sqlite.Open(filepath.Join(t.TempDir(), "app.db"), sqlite.Options{Create: true})
	require.NoError(t, err)
	defer h.Close()
	require.NoError(t, h.EnsureSchema(ctx))
	w := newWriter(t)

	require.NoError(t, w.Apply(ctx, h, types.InsertCase{
		Clinic:     types.Text("Neuro"),
		DeviceName: types.Text("Endoscope"),
		Submitter:  types.Text("A"),
		CreatedBy:  types.Text("A"),
	}))

	var status, createdBy string
	require.NoError(t, h.DB().QueryRow("SELECT status, created_by FROM cases WHERE id = 1").Scan(&status, &createdBy))
	assert.Equal(t, "In Reparatur", status)
	assert.Equal(t, "A", createdBy)

	require.NoError(t, w.Apply(ctx, h, types.UpdateCase{
		ID:       types.ID(1),
		Status:   types.Text("Abgeschlossen"),
		ClosedBy: types.Text("bob"),
	}))
	var closedBy string
	require.NoError(t, h.DB().QueryRow("SELECT status, closed_by FROM cases WHERE id = 1").Scan(&status, &closedBy))
	assert.Equal(t, "Abgeschlossen", status)
	assert.Equal(t, "bob", closedBy)

	require.NoError(t, w.Apply(ctx, h, types.DeleteCase{ID: types.ID(1), DeletedBy: types.Text("bob")}))
	var cases int
	require.NoError(t, h.DB().QueryRow("SELECT COUNT(*) FROM cases").Scan(&cases))
	assert.Zero(t, cases)

	var action, details string
	var entityID int64
	require.NoError(t, h.DB().QueryRow("SELECT action, entity_id, details FROM audit_log").Scan(&action, &entityID, &details))
	assert.Equal(t, AuditActionDelete, action)
	assert.Equal(t, int64(1), entityID)
	assert.JSONEq(t, `{"id":1,"deleted_by":"bob","source":"offline_buffer",
		"preview":{"clinic":"Neuro","device_name":"Endoscope","wave_number":null}}`, details)

	err = w.Apply(ctx, h, types.InsertCase{
		Clinic:     types.Text("Neuro"),
		DeviceName: types.Text("Endoscope"),
		Status:     types.Text("Lost"),
	})
	require.Error(t, err, "status outside the allowed set violates the table check")
	assert.False(t, types.IsTransient(err))
}
