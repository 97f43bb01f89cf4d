// Package buffer holds case writes that could not reach the primary store
// and replays them later.
//
// Enqueue appends an entry to the durable queue file. SyncOnce walks the
// queue in order and applies each entry through the writer. A busy or
// locked store ends the pass and keeps the failing entry and everything
// after it; any other failure drops the entry. Whatever is left is written
// back to the queue file before SyncOnce returns.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/casebuffer/internal/codec"
	"github.com/mesh-intelligence/casebuffer/internal/logging"
	"github.com/mesh-intelligence/casebuffer/internal/metrics"
	"github.com/mesh-intelligence/casebuffer/internal/queue"
	"github.com/mesh-intelligence/casebuffer/internal/store"
	"github.com/mesh-intelligence/casebuffer/pkg/types"
)

// Applier writes one entry to the primary store. *writer.Writer is the
// production implementation.
type Applier interface {
	Apply(ctx context.Context, h store.Handle, e types.Entry) error
}

// Result summarizes one SyncOnce pass.
type Result struct {
	Applied   int
	Remaining int
	// Dropped counts entries discarded after a permanent failure.
	Dropped int
}

// Buffer couples the queue file with the writer.
type Buffer struct {
	queue   *queue.Store
	writer  Applier
	log     logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithLogger sets the logger. The default discards output.
func WithLogger(l logging.Logger) Option {
	return func(b *Buffer) { b.log = l }
}

// WithMetrics records enqueue and sync activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Buffer) { b.metrics = m }
}

// WithClock overrides the enqueue timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// WithIDGenerator overrides queue id generation.
func WithIDGenerator(fn func() string) Option {
	return func(b *Buffer) { b.newID = fn }
}

// New returns a Buffer over q that applies entries with w.
func New(q *queue.Store, w Applier, opts ...Option) *Buffer {
	b := &Buffer{
		queue:  q,
		writer: w,
		log:    logging.Discard(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Enqueue decodes a loosely typed payload with a "type" discriminator and
// buffers it. It returns once the queue file holds the entry.
func (b *Buffer) Enqueue(ctx context.Context, payload map[string]any) error {
	e, err := codec.FromPayload(payload)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return b.EnqueueEntry(ctx, e)
}

// EnqueueEntry normalizes e, stamps its queue metadata and appends it to the
// queue file. Metadata already present on e is kept.
func (b *Buffer) EnqueueEntry(ctx context.Context, e types.Entry) error {
	if e == nil {
		return fmt.Errorf("enqueue: %w: nil entry", types.ErrUnknownEntryType)
	}
	e = codec.Normalize(e)

	m := e.Metadata()
	if m.QueueID == "" {
		m.QueueID = b.newID()
	}
	if m.QueuedAt == "" {
		m.QueuedAt = b.now().UTC().Format(time.RFC3339)
	}
	e = e.WithMeta(m)

	if err := b.queue.Append(ctx, e); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	b.metrics.IncEnqueued()
	b.log.Info(ctx, "entry buffered", "queue_id", m.QueueID, "kind", e.Kind())
	return nil
}

// Pending returns the entries currently waiting in the queue file.
func (b *Buffer) Pending(ctx context.Context) []types.Entry {
	return b.queue.Load(ctx)
}

// Peek lists the queued entries without quarantining a corrupt queue file.
func (b *Buffer) Peek() ([]types.Entry, error) {
	return b.queue.Peek()
}

// Verify reports whether the queue file is intact without quarantining it.
func (b *Buffer) Verify() error {
	return b.queue.Verify()
}

// QueuePath returns the location of the queue file.
func (b *Buffer) QueuePath() string {
	return b.queue.Path()
}

// SyncOnce makes one pass over the queue against the store behind h. An
// empty queue returns immediately without rewriting the file. The returned
// error is non-nil only when the remaining entries could not be saved.
//
// A cancelled ctx ends the pass like a busy store: nothing is dropped
// because of it.
func (b *Buffer) SyncOnce(ctx context.Context, h store.Handle) (Result, error) {
	entries := b.queue.Load(ctx)
	if len(entries) == 0 {
		b.metrics.IncPass(metrics.OutcomeEmpty)
		return Result{}, nil
	}

	var res Result
	remaining := make([]types.Entry, 0, len(entries))
	outcome := metrics.OutcomeDrained

	for i, e := range entries {
		if ctx.Err() != nil {
			remaining = append(remaining, entries[i:]...)
			outcome = metrics.OutcomeContended
			break
		}

		err := b.writer.Apply(ctx, h, codec.Normalize(e))
		if err == nil {
			res.Applied++
			b.metrics.IncApplied()
			continue
		}
		if types.IsTransient(err) || ctx.Err() != nil {
			remaining = append(remaining, entries[i:]...)
			outcome = metrics.OutcomeContended
			b.log.Info(ctx, "store busy, stopping sync pass",
				"queue_id", e.Metadata().QueueID, "kept", len(remaining), "error", err)
			break
		}

		res.Dropped++
		b.metrics.IncDropped(dropReason(err))
		b.log.Warn(ctx, "dropping entry after permanent failure",
			"queue_id", e.Metadata().QueueID, "kind", e.Kind(), "error", err)
	}

	res.Remaining = len(remaining)
	if err := b.queue.Save(ctx, remaining); err != nil {
		b.metrics.IncPass(metrics.OutcomeFailed)
		return res, fmt.Errorf("sync: %w", err)
	}
	b.metrics.IncPass(outcome)
	b.log.Info(ctx, "sync pass finished",
		"applied", res.Applied, "remaining", res.Remaining, "dropped", res.Dropped)
	return res, nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrUnknownEntryType):
		return metrics.ReasonValidation
	case errors.Is(err, types.ErrSchemaMismatch):
		return metrics.ReasonSchema
	default:
		return metrics.ReasonStore
	}
}
