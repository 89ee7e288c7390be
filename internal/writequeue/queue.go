// Package writequeue coalesces writes to the same file. Every file path is
// either idle, queued (operations are buffered for it) or flushing (one
// goroutine is applying its buffered operations to disk). Operations on a
// path are applied in the order they were enqueued and never concurrently,
// so the queue is the single writer of each file.
package writequeue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/UltraSive/filekv/internal/datastore"
)

const (
	DefaultInterval = time.Second

	// flushConcurrency bounds how many paths one Flush writes at once.
	flushConcurrency = 32
)

var (
	ErrDiscarded = errors.New("write discarded by a later remove")
	ErrClosed    = errors.New("write queue closed")
)

// Writer performs the physical file operations.
type Writer interface {
	Write(ctx context.Context, name string, d datastore.Datum) error
	Delete(ctx context.Context, name string) (datastore.DeleteResult, error)
}

// Config holds write queue parameters.
type Config struct {
	// Coalesce buffers writes until the next flush and performs one write
	// per path per flush. When false every write is applied on its own.
	Coalesce bool
	// Interval is the flush period used when Coalesce is set.
	Interval time.Duration
	// WriteOnlyLast selects the most recently enqueued write of a batch;
	// when false the earliest one wins.
	WriteOnlyLast bool
	// OnWritten is called after a successful write and before any
	// completion of its batch resolves. seq is the highest sequence number
	// in the batch.
	OnWritten func(name string, d datastore.Datum, seq uint64)
	Logger    *slog.Logger
}

// Stats counts physical operations performed by a queue.
type Stats struct {
	Writes    int64 // files written
	Coalesced int64 // completions satisfied by another caller's write
	Discarded int64 // pending writes dropped by a remove
	Deletes   int64 // delete calls issued
}

type writeOp struct {
	datum datastore.Datum
	seq   uint64
	c     *Completion[datastore.Datum]
}

type deleteOp struct {
	cs []*Completion[datastore.DeleteResult]
}

// pathState holds the buffered operations of one path. ops is guarded by
// Queue.mu; mu is held for the whole time the operations are applied.
// When present, del precedes every write in ops.
type pathState struct {
	mu    sync.Mutex
	del   *deleteOp
	ops   []writeOp
	users int
}

func (ps *pathState) idle() bool {
	return ps.del == nil && len(ps.ops) == 0
}

type Queue struct {
	w      Writer
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	paths  map[string]*pathState
	closed bool

	stop chan struct{}
	done chan struct{}

	writes    atomic.Int64
	coalesced atomic.Int64
	discarded atomic.Int64
	deletes   atomic.Int64
}

// New creates a Queue that applies operations through w. Call Start to run
// the periodic flush.
func New(w Writer, cfg Config) *Queue {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Queue{
		w:      w,
		cfg:    cfg,
		logger: logger,
		paths:  make(map[string]*pathState),
	}
}

// Coalescing reports whether writes wait for the periodic flush.
func (q *Queue) Coalescing() bool {
	return q.cfg.Coalesce
}

// Start launches the flush ticker. It is a no-op when coalescing is off or
// the ticker is already running.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.cfg.Coalesce || q.stop != nil || q.closed {
		return
	}
	q.stop = make(chan struct{})
	q.done = make(chan struct{})

	t := time.NewTicker(q.cfg.Interval)
	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if err := q.Flush(context.Background()); err != nil {
					q.logger.Warn("flush failed", "error", err)
				}
			case <-stop:
				return
			}
		}
	}(q.stop, q.done)
}

// Enqueue buffers a write of d to name and returns its completion. Callers
// that need writes of one path applied in a given order must enqueue them
// in that order. seq is passed back through Config.OnWritten.
func (q *Queue) Enqueue(name string, d datastore.Datum, seq uint64) *Completion[datastore.Datum] {
	c := newCompletion[datastore.Datum]()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		c.resolve(datastore.Datum{}, ErrClosed)
		return c
	}
	ps := q.path(name)
	ps.ops = append(ps.ops, writeOp{datum: d, seq: seq, c: c})
	return c
}

// EnqueueDelete buffers a delete of name. Writes still pending for name are
// dropped and fail with ErrDiscarded. The delete is applied by the next
// FlushPath or Flush; callers normally flush the path right away.
func (q *Queue) EnqueueDelete(name string) *Completion[datastore.DeleteResult] {
	c := newCompletion[datastore.DeleteResult]()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		c.resolve(datastore.DeleteResult{}, ErrClosed)
		return c
	}
	ps := q.path(name)
	for _, op := range ps.ops {
		op.c.resolve(datastore.Datum{}, ErrDiscarded)
	}
	q.discarded.Add(int64(len(ps.ops)))
	ps.ops = nil

	if ps.del == nil {
		ps.del = &deleteOp{}
	}
	ps.del.cs = append(ps.del.cs, c)
	return c
}

// path returns the state for name, creating it if needed. q.mu must be held.
func (q *Queue) path(name string) *pathState {
	ps, ok := q.paths[name]
	if !ok {
		ps = &pathState{}
		q.paths[name] = ps
	}
	return ps
}

func (q *Queue) release(name string, ps *pathState) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ps.users--
	if ps.users == 0 && ps.idle() {
		delete(q.paths, name)
	}
}

// FlushPath applies every operation buffered for name and waits for it to
// finish. It returns the errors of the operations it applied; those errors
// are also delivered to the waiting completions.
func (q *Queue) FlushPath(ctx context.Context, name string) error {
	q.mu.Lock()
	ps, ok := q.paths[name]
	if !ok {
		q.mu.Unlock()
		return nil
	}
	ps.users++
	q.mu.Unlock()
	defer q.release(name, ps)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	q.mu.Lock()
	del, ops := ps.del, ps.ops
	ps.del, ps.ops = nil, nil
	q.mu.Unlock()

	var errs []error
	if del != nil {
		errs = append(errs, q.applyDelete(ctx, name, del))
	}
	if len(ops) > 0 {
		if q.cfg.Coalesce {
			errs = append(errs, q.applyBatch(ctx, name, ops))
		} else {
			for _, op := range ops {
				errs = append(errs, q.applyBatch(ctx, name, []writeOp{op}))
			}
		}
	}
	return errors.Join(errs...)
}

func (q *Queue) applyDelete(ctx context.Context, name string, del *deleteOp) error {
	res, err := q.w.Delete(ctx, name)
	q.deletes.Add(1)
	for _, c := range del.cs {
		c.resolve(res, err)
	}
	return err
}

// applyBatch performs one physical write for ops and resolves every
// completion in ops with its outcome.
func (q *Queue) applyBatch(ctx context.Context, name string, ops []writeOp) error {
	pick := ops[0]
	if q.cfg.WriteOnlyLast {
		pick = ops[len(ops)-1]
	}
	var seq uint64
	for _, op := range ops {
		seq = max(seq, op.seq)
	}

	err := q.w.Write(ctx, name, pick.datum)
	q.writes.Add(1)
	if err == nil {
		if q.cfg.OnWritten != nil {
			q.cfg.OnWritten(name, pick.datum, seq)
		}
		q.coalesced.Add(int64(len(ops) - 1))
		if len(ops) > 1 {
			q.logger.Debug("flush", "file", name, "batch", len(ops))
		}
	}

	for _, op := range ops {
		op.c.resolve(pick.datum, err)
	}
	return err
}

// Flush applies the operations buffered for every path. Paths are flushed
// concurrently; the returned error joins the failures of all of them.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	names := make([]string, 0, len(q.paths))
	for name, ps := range q.paths {
		if !ps.idle() {
			names = append(names, name)
		}
	}
	q.mu.Unlock()

	if len(names) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, flushConcurrency)
	errs := make([]error, len(names))
	for i, name := range names {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = q.FlushPath(ctx, name)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Pending returns the number of paths with buffered operations.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, ps := range q.paths {
		if !ps.idle() {
			n++
		}
	}
	return n
}

// Close stops the flush ticker, rejects further operations and flushes
// whatever is still buffered.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	stop, done := q.stop, q.done
	q.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return q.Flush(ctx)
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Writes:    q.writes.Load(),
		Coalesced: q.coalesced.Load(),
		Discarded: q.discarded.Load(),
		Deletes:   q.deletes.Load(),
	}
}
