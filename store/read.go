package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/UltraSive/filekv/internal/expiry"
)

// Filter selects datums in the read views. A view returns the datums that
// pass every filter.
type Filter func(Datum) bool

// KeyPrefix selects datums whose key starts with prefix.
func KeyPrefix(prefix string) Filter {
	return func(d Datum) bool { return strings.HasPrefix(d.Key, prefix) }
}

// Get returns a copy of the value stored under key. An expired datum is
// reported as absent and removed. Before Init the store is empty.
func (s *Store) Get(ctx context.Context, key string) (any, bool) {
	d, ok := s.GetDatum(ctx, key)
	return d.Value, ok
}

// GetInto decodes the value stored under key into out, which must be a
// pointer, using the store codec.
func (s *Store) GetInto(ctx context.Context, key string, out any) (bool, error) {
	d, ok := s.lookup(ctx, key)
	if !ok {
		return false, nil
	}
	data, err := s.copier.Marshal(d.Value)
	if err != nil {
		return false, fmt.Errorf("failed to encode value of %q: %w", key, err)
	}
	if err := s.copier.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode value of %q: %w", key, err)
	}
	return true, nil
}

// GetDatum is Get returning the whole datum.
func (s *Store) GetDatum(ctx context.Context, key string) (Datum, bool) {
	d, ok := s.lookup(ctx, key)
	if !ok {
		return Datum{}, false
	}
	return s.copyDatum(d), true
}

// GetRawDatum returns the stored file of key as it is on disk, including
// writes buffered by other instances that have since been flushed.
func (s *Store) GetRawDatum(ctx context.Context, key string) ([]byte, bool, error) {
	return s.dir.ReadRaw(ctx, fileName(key))
}

// lookup returns the live datum of key without copying its value.
func (s *Store) lookup(ctx context.Context, key string) (Datum, bool) {
	now := s.now()
	s.mu.RLock()
	e, ok := s.index.Get(probe(key))
	var d Datum
	if ok {
		d = e.datum
	}
	s.mu.RUnlock()
	if !ok {
		return Datum{}, false
	}

	if expiry.IsExpired(d, now) {
		if _, err := s.expire(ctx, key); err != nil && !errors.Is(err, ErrClosed) {
			s.logger.Warn("failed to remove expired datum", "key", key, "error", err)
		}
		return Datum{}, false
	}
	return d, true
}

func (s *Store) copyDatum(d Datum) Datum {
	v, err := s.copy(d.Value)
	if err != nil {
		s.logger.Warn("failed to copy value", "key", d.Key, "error", err)
		return d
	}
	d.Value = v
	return d
}

// snapshot returns the datums in key order. Expired datums are included
// only when withExpired is set.
func (s *Store) snapshot(withExpired bool, filters []Filter) []Datum {
	now := s.now()
	s.mu.RLock()
	data := make([]Datum, 0, s.index.Len())
	s.index.Ascend(func(e *entry) bool {
		if withExpired || !expiry.IsExpired(e.datum, now) {
			data = append(data, e.datum)
		}
		return true
	})
	s.mu.RUnlock()

	if len(filters) == 0 {
		return data
	}
	kept := data[:0]
next:
	for _, d := range data {
		for _, f := range filters {
			if !f(d) {
				continue next
			}
		}
		kept = append(kept, d)
	}
	return kept
}

// Keys returns the live keys in ascending order.
func (s *Store) Keys(filters ...Filter) []string {
	data := s.snapshot(false, filters)
	keys := make([]string, len(data))
	for i, d := range data {
		keys[i] = d.Key
	}
	return keys
}

// Values returns copies of the live values in key order.
func (s *Store) Values(filters ...Filter) []any {
	data := s.snapshot(false, filters)
	values := make([]any, len(data))
	for i, d := range data {
		values[i] = s.copyDatum(d).Value
	}
	return values
}

// Length returns the number of live keys.
func (s *Store) Length(filters ...Filter) int {
	return len(s.snapshot(false, filters))
}

// ForEach calls fn with a copy of every live datum in key order. It stops
// at the first error fn returns, or when ctx is done.
func (s *Store) ForEach(ctx context.Context, fn func(Datum) error, filters ...Filter) error {
	for _, d := range s.snapshot(false, filters) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(s.copyDatum(d)); err != nil {
			return err
		}
	}
	return nil
}

// Data returns copies of every datum in memory, including expired ones the
// sweep has not removed yet.
func (s *Store) Data() []Datum {
	data := s.snapshot(true, nil)
	for i := range data {
		data[i] = s.copyDatum(data[i])
	}
	return data
}

// ValuesWithKeyMatch returns the live values whose key contains substr.
func (s *Store) ValuesWithKeyMatch(substr string) []any {
	return s.Values(func(d Datum) bool { return strings.Contains(d.Key, substr) })
}

// ValuesWithKeyRegexp returns the live values whose key matches re.
func (s *Store) ValuesWithKeyRegexp(re *regexp.Regexp) []any {
	return s.Values(func(d Datum) bool { return re.MatchString(d.Key) })
}
