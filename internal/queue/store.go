// Package queue owns the on-disk pending-operations list: atomic save,
// integrity-checked load, and quarantine of unreadable state.
//
// The queue file is a single JSON document:
//
//	{
//	  "entries": [ {"type": "insert_case", ...}, ... ],
//	  "hash": "<hex sha256 of the compact entries array>"
//	}
//
// A file that cannot be read, parsed or verified is renamed aside and the
// queue starts empty. Losing buffered writes is preferred to refusing to
// start.
package queue

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/mesh-intelligence/casebuffer/internal/codec"
	"github.com/mesh-intelligence/casebuffer/internal/logging"
	"github.com/mesh-intelligence/casebuffer/internal/metrics"
	"github.com/mesh-intelligence/casebuffer/pkg/types"
)

// QuarantineSuffix ends the name of every quarantined queue file.
const QuarantineSuffix = ".corrupt"

// envelope mirrors the queue file format.
type envelope struct {
	Entries []json.RawMessage `json:"entries"`
	Hash    string            `json:"hash"`
}

// Store is the durable queue file. It assumes a single writer process.
type Store struct {
	path    string
	log     logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for quarantine reports.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithMetrics records quarantines and the pending gauge on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock overrides the clock used to name quarantined files.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a Store for the queue file at path. Nothing is touched on disk
// until the first Save.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path: path,
		log:  logging.Discard(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the live queue file path.
func (s *Store) Path() string { return s.path }

// Load returns the queued entries in order. A missing file is an empty
// queue. Any other failure quarantines the file and returns an empty queue;
// Load never fails.
func (s *Store) Load(ctx context.Context) []types.Entry {
	entries, err := s.read()
	if err == nil {
		return entries
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	s.quarantine(ctx, err)
	return nil
}

// Peek returns the queued entries like Load but leaves an unreadable file in
// place and reports why it failed. A missing file is an empty queue.
func (s *Store) Peek() ([]types.Entry, error) {
	entries, err := s.read()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return entries, err
}

// Verify reports whether the queue file would load cleanly, without
// quarantining it. A missing file verifies.
func (s *Store) Verify() error {
	_, err := s.Peek()
	return err
}

// Save atomically replaces the queue file with entries. I/O failures are
// returned; the previous file is left intact.
func (s *Store) Save(ctx context.Context, entries []types.Entry) error {
	data, err := encodeEnvelope(entries)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("save queue %s: %w", s.path, err)
	}
	s.metrics.SetPending(len(entries))
	s.log.Debug(ctx, "queue saved", "path", s.path, "entries", len(entries))
	return nil
}

// Append adds e to the end of the queue and persists it.
func (s *Store) Append(ctx context.Context, e types.Entry) error {
	entries := s.Load(ctx)
	entries = append(entries, e)
	return s.Save(ctx, entries)
}

func (s *Store) read() ([]types.Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	return decodeEnvelope(data)
}

func (s *Store) quarantine(ctx context.Context, cause error) {
	dst := fmt.Sprintf("%s.%s%s", s.path, s.now().UTC().Format("20060102T150405.000000000Z"), QuarantineSuffix)
	if err := os.Rename(s.path, dst); err != nil {
		s.log.Error(ctx, "queue quarantine failed", "path", s.path, "cause", cause, "error", err)
		return
	}
	s.metrics.IncQuarantined()
	s.log.Warn(ctx, "queue file quarantined", "path", s.path, "quarantine", dst, "cause", cause)
}

func encodeEnvelope(entries []types.Entry) ([]byte, error) {
	raws := make([]json.RawMessage, 0, len(entries))
	for i, e := range entries {
		raw, err := codec.Encode(e)
		if err != nil {
			return nil, fmt.Errorf("encode entry %d: %w", i, err)
		}
		raws = append(raws, raw)
	}
	sum, err := digest(raws)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(envelope{Entries: raws, Hash: sum}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode queue: %w", err)
	}
	return append(data, '\n'), nil
}

func decodeEnvelope(data []byte) ([]types.Entry, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCorruptQueue, err)
	}
	if env.Hash == "" {
		return nil, fmt.Errorf("%w: missing hash", types.ErrCorruptQueue)
	}
	sum, err := digest(env.Entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCorruptQueue, err)
	}
	if sum != env.Hash {
		return nil, fmt.Errorf("%w: hash mismatch: stored %s, computed %s", types.ErrCorruptQueue, env.Hash, sum)
	}

	entries := make([]types.Entry, 0, len(env.Entries))
	for i, raw := range env.Entries {
		e, err := codec.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", types.ErrCorruptQueue, i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// digest hashes the compact JSON array of raws. Compacting first makes the
// digest independent of the indentation the file was written with.
func digest(raws []json.RawMessage) (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, raw := range raws {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := json.Compact(&buf, raw); err != nil {
			return "", err
		}
	}
	buf.WriteByte(']')
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}
