// Package rocksdb reads key spaces written by RocksDB-backed deployments so
// they can be imported into a file store.
package rocksdb

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/linxGnu/grocksdb"

	"github.com/UltraSive/filekv/internal/datastore"
)

type Source struct {
	db       *grocksdb.DB
	opts     *grocksdb.Options
	readOpts *grocksdb.ReadOptions
}

// Open opens the database at path read-only.
func Open(path string) (*Source, error) {
	opts := grocksdb.NewDefaultOptions()
	db, err := grocksdb.OpenDbForReadOnly(opts, path, false)
	if err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("open rocksdb %s: %w", path, err)
	}
	return &Source{
		db:       db,
		opts:     opts,
		readOpts: grocksdb.NewDefaultReadOptions(),
	}, nil
}

// Scan calls fn with every live entry converted to a datum. Expired entries
// and entries that are not in the {expiry,value} envelope are counted as
// skipped. Scan stops at the first error returned by fn.
func (s *Source) Scan(now time.Time, fn func(datastore.Datum) error) (skipped int, err error) {
	it := s.db.NewIterator(s.readOpts)
	defer it.Close()

	for it.SeekToFirst(); it.Valid(); it.Next() {
		key := it.Key()
		value := it.Value()
		k := string(key.Data())

		var e datastore.DBEntry
		decodeErr := json.Unmarshal(value.Data(), &e)
		key.Free()
		value.Free()

		if decodeErr != nil {
			skipped++
			continue
		}
		d, ok := datastore.FromDBEntry(k, e, now)
		if !ok {
			skipped++
			continue
		}
		if err := fn(d); err != nil {
			return skipped, err
		}
	}
	return skipped, it.Err()
}

func (s *Source) Close() error {
	s.readOpts.Destroy()
	s.db.Close()
	s.opts.Destroy()
	return nil
}
