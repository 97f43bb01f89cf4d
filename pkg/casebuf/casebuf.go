// Package casebuf is the public entry point to the offline case buffer.
// It wires the queue file, the schema-adaptive writer and the primary store
// handles from a types.Config while keeping implementation details internal.
//
// Example:
//
//	buf, err := casebuf.Open(cfg)
//	err = buf.Enqueue(ctx, map[string]any{"type": "insert_case", "clinic": "Neuro", "device_name": "Endoscope"})
//
//	st, err := casebuf.OpenStore(ctx, cfg) // after CreateStore provisioned it
//	defer st.Close()
//	res, err := buf.SyncOnce(ctx, st)
package casebuf

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mesh-intelligence/casebuffer/internal/buffer"
	"github.com/mesh-intelligence/casebuffer/internal/logging"
	"github.com/mesh-intelligence/casebuffer/internal/metrics"
	"github.com/mesh-intelligence/casebuffer/internal/queue"
	"github.com/mesh-intelligence/casebuffer/internal/store"
	"github.com/mesh-intelligence/casebuffer/internal/store/postgres"
	"github.com/mesh-intelligence/casebuffer/internal/store/sqlite"
	"github.com/mesh-intelligence/casebuffer/internal/writer"
	"github.com/mesh-intelligence/casebuffer/pkg/types"
)

type (
	// Buffer queues case writes and replays them against a Store.
	Buffer = buffer.Buffer
	// Result reports the outcome of one sync pass.
	Result = buffer.Result
	// Handle is the store surface the buffer writes through.
	Handle = store.Handle
	// Logger receives structured log records.
	Logger = logging.Logger
	// Metrics holds the buffer's Prometheus collectors.
	Metrics = metrics.Metrics
)

// Store is an open primary store.
type Store interface {
	Handle
	io.Closer
}

// NewMetrics registers the buffer collectors on reg.
func NewMetrics(reg *prometheus.Registry) (*Metrics, error) {
	return metrics.New(reg)
}

type options struct {
	log     Logger
	metrics *Metrics
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger shared by the queue, writer and buffer.
func WithLogger(l Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics records buffer activity on m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Open builds a Buffer whose queue file is cfg.QueuePath(). The file is
// not touched until the first enqueue or sync.
func Open(cfg types.Config, opts ...Option) (*Buffer, error) {
	o := options{log: logging.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	q := queue.New(cfg.QueuePath(), queue.WithLogger(o.log), queue.WithMetrics(o.metrics))
	w, err := writer.New(writer.WithLogger(o.log))
	if err != nil {
		return nil, fmt.Errorf("create writer: %w", err)
	}
	return buffer.New(q, w, buffer.WithLogger(o.log), buffer.WithMetrics(o.metrics)), nil
}

// OpenStore connects to the primary store selected by cfg.Store. A SQLite
// database that does not exist yet is an error; use CreateStore to
// provision one.
func OpenStore(ctx context.Context, cfg types.Config) (Store, error) {
	return openStore(ctx, cfg, false)
}

// CreateStore connects like OpenStore, creating a missing SQLite database
// and its case tables.
func CreateStore(ctx context.Context, cfg types.Config) (Store, error) {
	st, err := openStore(ctx, cfg, true)
	if err != nil {
		return nil, err
	}
	if err := EnsureSchema(ctx, st); err != nil {
		st.Close()
		return nil, fmt.Errorf("initialize store: %w", err)
	}
	return st, nil
}

func openStore(ctx context.Context, cfg types.Config, create bool) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	switch cfg.Store.Driver {
	case types.DriverSQLite:
		h, err := sqlite.Open(cfg.SQLitePath(), sqlite.Options{
			BusyTimeout: time.Duration(cfg.Store.BusyTimeoutMS) * time.Millisecond,
			Create:      create,
		})
		if err != nil {
			return nil, err
		}
		return h, nil
	case types.DriverPostgres:
		h, err := postgres.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		return h, nil
	default:
		return nil, types.ErrDriverUnknown
	}
}

// EnsureSchema creates the case tables in a SQLite store opened by
// OpenStore or CreateStore. Other stores are expected to be provisioned already and are
// left alone.
func EnsureSchema(ctx context.Context, st Store) error {
	if h, ok := st.(*sqlite.Handle); ok {
		return h.EnsureSchema(ctx)
	}
	return nil
}
