package datastore

import (
	"encoding/json"
	"math"
	"time"
)

// DBEntry is the envelope RocksDB-backed deployments store under each key.
// Expiry is in Unix nanoseconds; math.MaxInt64 marks an entry that never
// expires.
type DBEntry struct {
	Expiry int64           `json:"expiry"`
	Value  json.RawMessage `json:"value"`
}

// FromDBEntry converts an envelope read from RocksDB into a datum. It
// reports false when the entry has already expired at now or its value is
// not valid JSON.
func FromDBEntry(key string, e DBEntry, now time.Time) (Datum, bool) {
	if key == "" {
		return Datum{}, false
	}
	d := Datum{Key: key}
	if e.Expiry != math.MaxInt64 && e.Expiry != 0 {
		if now.UnixNano() > e.Expiry {
			return Datum{}, false
		}
		d.TTL = time.Unix(0, e.Expiry).UnixMilli()
	}
	if len(e.Value) > 0 {
		if err := json.Unmarshal(e.Value, &d.Value); err != nil {
			return Datum{}, false
		}
	}
	return d, true
}
