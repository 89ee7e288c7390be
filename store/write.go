package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/UltraSive/filekv/internal/expiry"
	"github.com/UltraSive/filekv/internal/writequeue"
)

// SetOption adjusts a single Set or Update call.
type SetOption func(*setOptions)

type setOptions struct {
	ttl expiry.TTL
}

// WithTTL expires the datum d after the write. Zero means no expiry and a
// negative d selects the 24 hour default.
func WithTTL(d time.Duration) SetOption {
	return func(o *setOptions) { o.ttl = expiry.After(d) }
}

// WithExpiry expires the datum at t. A t that is not in the future selects
// the 24 hour default.
func WithExpiry(t time.Time) SetOption {
	return func(o *setOptions) { o.ttl = expiry.At(t) }
}

// WithoutTTL stores the datum without expiry regardless of the store
// default.
func WithoutTTL() SetOption {
	return func(o *setOptions) { o.ttl = expiry.Never() }
}

// RemoveResult describes a completed Remove.
type RemoveResult struct {
	Key   string
	Value any
	// File is the absolute path of the datum file.
	File string
	// Existed is false when neither memory nor disk held the key.
	Existed bool
	// Removed is true when a file was deleted.
	Removed bool
}

// Set stores a copy of value under key and waits until it is on disk.
func (s *Store) Set(ctx context.Context, key string, value any, opts ...SetOption) (Datum, error) {
	return s.SetAsync(ctx, key, value, opts...).Wait(ctx)
}

// SetAsync stores a copy of value under key. The value is visible to reads
// immediately; the returned Completion resolves with a copy of the datum
// written to disk, which under first-write-wins may be an earlier one.
func (s *Store) SetAsync(ctx context.Context, key string, value any, opts ...SetOption) *Completion[Datum] {
	return s.write(ctx, key, value, opts, false)
}

// Update is Set, except that without an explicit TTL option a live
// existing datum keeps its expiry.
func (s *Store) Update(ctx context.Context, key string, value any, opts ...SetOption) (Datum, error) {
	return s.UpdateAsync(ctx, key, value, opts...).Wait(ctx)
}

// UpdateAsync is the asynchronous form of Update.
func (s *Store) UpdateAsync(ctx context.Context, key string, value any, opts ...SetOption) *Completion[Datum] {
	return s.write(ctx, key, value, opts, true)
}

func (s *Store) write(ctx context.Context, key string, value any, opts []SetOption, update bool) *Completion[Datum] {
	if key == "" {
		return writequeue.Resolved(Datum{}, ErrEmptyKey)
	}
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	v, err := s.copy(value)
	if err != nil {
		return writequeue.Resolved(Datum{}, fmt.Errorf("failed to copy value of %q: %w", key, err))
	}
	now := s.now()
	name := fileName(key)

	s.mu.Lock()
	if err := s.usable(); err != nil {
		s.mu.Unlock()
		return writequeue.Resolved(Datum{}, err)
	}
	ttl := expiry.Resolve(o.ttl, s.opts.TTL, now)
	if update && !o.ttl.IsSet() {
		if prev, ok := s.index.Get(probe(key)); ok && !expiry.IsExpired(prev.datum, now) {
			ttl = prev.datum.TTL
		}
	}
	s.seq++
	d := Datum{Key: key, Value: v, TTL: ttl}
	s.index.ReplaceOrInsert(&entry{datum: d, seq: s.seq})
	c := s.queue.Enqueue(name, d, s.seq)
	s.mu.Unlock()

	if !s.queue.Coalescing() {
		// The error reaches the caller through c.
		_ = s.queue.FlushPath(ctx, name)
	}
	// Every caller of a batch gets its own copy of the written datum.
	return writequeue.Then(c, s.copyDatum)
}

// Remove deletes key from memory and disk. A key that is not present is
// not an error; RemoveResult.Existed reports it.
func (s *Store) Remove(ctx context.Context, key string) (RemoveResult, error) {
	res, _, err := s.remove(ctx, key, false)
	return res, err
}

// remove deletes key. With onlyExpired it does nothing unless the current
// datum is expired, and ok reports whether it acted.
func (s *Store) remove(ctx context.Context, key string, onlyExpired bool) (res RemoveResult, ok bool, err error) {
	if key == "" {
		return RemoveResult{}, false, ErrEmptyKey
	}
	name := fileName(key)
	res = RemoveResult{Key: key, File: s.dir.Path(name)}

	s.mu.Lock()
	if err := s.usable(); err != nil {
		s.mu.Unlock()
		return res, false, err
	}
	if onlyExpired {
		e, found := s.index.Get(probe(key))
		if !found || !expiry.IsExpired(e.datum, s.now()) {
			s.mu.Unlock()
			return res, false, nil
		}
	}
	prev, existed := s.index.Delete(probe(key))
	s.seq++
	c := s.queue.EnqueueDelete(name)
	s.mu.Unlock()

	if existed {
		res.Value = prev.datum.Value
		res.Existed = true
	}

	// The error reaches the caller through c.
	_ = s.queue.FlushPath(ctx, name)
	dr, err := c.Wait(ctx)
	if err != nil {
		return res, true, err
	}
	res.Removed = dr.Removed
	res.Existed = res.Existed || dr.Existed
	if res.Existed {
		s.removed.Add(1)
		s.logger.Debug("removed", "key", key, "file", dr.File)
	}
	return res, true, nil
}

// Clear removes every key held in memory and every datum file found in the
// directory, including files written by other instances since Init.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.RLock()
	if err := s.usable(); err != nil {
		s.mu.RUnlock()
		return err
	}
	keys := make([]string, 0, s.index.Len())
	s.index.Ascend(func(e *entry) bool {
		keys = append(keys, e.datum.Key)
		return true
	})
	s.mu.RUnlock()

	var errs []error
	onDisk, err := s.dir.ReadAll(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		seen[key] = struct{}{}
	}
	for _, d := range onDisk {
		if _, ok := seen[d.Key]; !ok {
			seen[d.Key] = struct{}{}
			keys = append(keys, d.Key)
		}
	}

	for _, key := range keys {
		if _, err := s.Remove(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveExpired removes every expired datum and returns how many it
// removed. A key set again after it expired is left alone.
func (s *Store) RemoveExpired(ctx context.Context) (int, error) {
	now := s.now()
	s.mu.RLock()
	if err := s.usable(); err != nil {
		s.mu.RUnlock()
		return 0, err
	}
	var keys []string
	s.index.Ascend(func(e *entry) bool {
		if expiry.IsExpired(e.datum, now) {
			keys = append(keys, e.datum.Key)
		}
		return true
	})
	s.mu.RUnlock()

	var (
		n    int
		errs []error
	)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		removed, err := s.expire(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if removed {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// expire removes key if its datum is still expired.
func (s *Store) expire(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.remove(ctx, key, true)
	if err != nil {
		return false, err
	}
	if ok {
		s.expired.Add(1)
		s.logger.Debug("expired", "key", key)
	}
	return ok, nil
}
