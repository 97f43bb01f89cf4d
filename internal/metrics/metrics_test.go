package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.IncEnqueued()
	m.IncEnqueued()
	m.IncApplied()
	m.IncDropped(ReasonValidation)
	m.IncPass(OutcomeContended)
	m.IncQuarantined()
	m.SetPending(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Enqueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Applied))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped.WithLabelValues(ReasonValidation)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Dropped.WithLabelValues(ReasonStore)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Passes.WithLabelValues(OutcomeContended)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Quarantined))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Pending))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncEnqueued()
	m.IncApplied()
	m.IncDropped(ReasonStore)
	m.IncPass(OutcomeEmpty)
	m.IncQuarantined()
	m.SetPending(1)
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestWriteTextfile(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	m.IncApplied()

	path := filepath.Join(t.TempDir(), "casebuf.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "casebuf_entries_applied_total 1")
}
