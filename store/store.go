// Package store is an embedded key-value store that keeps every entry in
// memory and persists each one as its own file in a directory. File names
// are the MD5 hex digest of the key, so a directory written by node-persist
// can be opened as is.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/UltraSive/filekv/codec"
	"github.com/UltraSive/filekv/internal/datastore"
	"github.com/UltraSive/filekv/internal/expiry"
	"github.com/UltraSive/filekv/internal/keyhash"
	"github.com/UltraSive/filekv/internal/writequeue"
)

var (
	ErrNotInitialized = errors.New("store is not initialized")
	ErrClosed         = errors.New("store is closed")
	ErrEmptyKey       = errors.New("key must not be empty")
)

// Datum is the unit of storage: a key, its value and its absolute expiry
// in epoch milliseconds (0 for none).
type Datum = datastore.Datum

// Completion resolves once an asynchronous operation has reached disk.
type Completion[T any] = writequeue.Completion[T]

const btreeDegree = 16

type entry struct {
	datum Datum
	seq   uint64
}

func lessEntry(a, b *entry) bool {
	return a.datum.Key < b.datum.Key
}

func probe(key string) *entry {
	return &entry{datum: Datum{Key: key}}
}

type Store struct {
	opts   Options
	id     string
	logger *slog.Logger
	now    func() time.Time
	copier codec.Codec
	dir    datastore.Datastore
	queue  *writequeue.Queue

	mu          sync.RWMutex
	index       *btree.BTreeG[*entry]
	seq         uint64
	initialized bool
	closed      bool

	stopSweep chan struct{}
	sweepDone <-chan struct{}

	removed atomic.Int64
	expired atomic.Int64
}

// New validates opts, merged over DefaultOptions, and returns a Store that
// must be initialized with Init before use.
func New(opts Options) (*Store, error) {
	merged := DefaultOptions()
	merged.Merge(&opts)

	root, err := resolveDir(merged.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dir %q: %w", merged.Dir, err)
	}
	merged.Dir = root

	base, file, err := merged.codecs()
	if err != nil {
		return nil, err
	}

	id := uuid.Must(uuid.NewV7()).String()
	logger := merged.logger().With("store_id", id, "dir", root)

	s := &Store{
		opts:   merged,
		id:     id,
		logger: logger,
		now:    merged.Now,
		copier: base,
		dir: datastore.NewDir(datastore.Config{
			Root:               root,
			Codec:              file,
			ForgiveParseErrors: merged.ForgiveParseErrors,
			Logger:             logger,
		}),
		index: btree.NewG(btreeDegree, lessEntry),
	}
	s.queue = writequeue.New(s.dir, writequeue.Config{
		Coalesce:      *merged.WriteQueue,
		Interval:      merged.WriteQueueInterval,
		WriteOnlyLast: *merged.WriteQueueWriteOnlyLast,
		OnWritten:     s.reconcile,
		Logger:        logger,
	})
	return s, nil
}

// Open creates a Store and initializes it.
func Open(ctx context.Context, opts Options) (*Store, error) {
	s, err := New(opts)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ID identifies this Store instance in logs.
func (s *Store) ID() string {
	return s.id
}

// Dir returns the absolute storage directory.
func (s *Store) Dir() string {
	return s.opts.Dir
}

// Options returns the effective options.
func (s *Store) Options() Options {
	return s.opts
}

// Init creates the storage directory if needed and loads every datum file
// into memory, then starts the expired sweep and the write queue. Calling
// Init again flushes pending writes and reloads the directory, picking up
// files written by other instances. Init must not run concurrently with
// writes.
func (s *Store) Init(ctx context.Context) error {
	s.mu.RLock()
	closed, reload := s.closed, s.initialized
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	if reload {
		if err := s.queue.Flush(ctx); err != nil {
			return fmt.Errorf("failed to flush before reload: %w", err)
		}
	}
	if err := s.dir.Ensure(ctx); err != nil {
		return err
	}
	data, err := s.dir.ReadAll(ctx)
	if err != nil {
		return err
	}

	index := btree.NewG(btreeDegree, lessEntry)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, d := range data {
		s.seq++
		index.ReplaceOrInsert(&entry{datum: d, seq: s.seq})
	}
	s.index = index

	if !s.initialized {
		s.initialized = true
		if s.opts.ExpiredInterval > 0 {
			s.stopSweep = make(chan struct{})
			s.sweepDone = expiry.Start(s, s.opts.ExpiredInterval, s.stopSweep, s.logger)
		}
		s.queue.Start()
	}
	s.logger.Debug("loaded", "keys", index.Len())
	return nil
}

// Close stops the expired sweep, flushes the write queue and rejects every
// later operation with ErrClosed.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop, done := s.stopSweep, s.sweepDone
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if err := s.queue.Close(ctx); err != nil {
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	s.logger.Debug("closed")
	return nil
}

// Flush writes every buffered operation now.
func (s *Store) Flush(ctx context.Context) error {
	if err := s.queue.Flush(ctx); err != nil {
		return err
	}
	s.logger.Debug("flush")
	return nil
}

// usable reports why the store cannot serve operations. Callers hold s.mu.
func (s *Store) usable() error {
	switch {
	case s.closed:
		return ErrClosed
	case !s.initialized:
		return ErrNotInitialized
	default:
		return nil
	}
}

// reconcile replaces the in-memory datum with the one written to disk,
// unless the key changed again after the written batch. Under
// first-write-wins this makes memory agree with the file.
func (s *Store) reconcile(_ string, d Datum, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.index.Get(probe(d.Key))
	if !ok || e.seq > seq {
		return
	}
	e.datum = d
}

// copy returns a deep copy of v by a round trip through the base codec.
func (s *Store) copy(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := s.copier.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := s.copier.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func fileName(key string) string {
	return keyhash.Name(key)
}
