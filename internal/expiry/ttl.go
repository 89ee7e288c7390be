// Package expiry decides when datums expire and sweeps the expired ones
// out of a store in the background.
package expiry

import (
	"time"

	"github.com/UltraSive/filekv/internal/datastore"
)

// DefaultTTL replaces a TTL that was requested but is unusable: a negative
// duration or an expiry time that is not in the future.
const DefaultTTL = 24 * time.Hour

type mode uint8

const (
	modeUnset mode = iota
	modeNever
	modeAfter
	modeAt
)

// TTL is a per-call expiry request. The zero value means "not given" and
// defers to the store default.
type TTL struct {
	mode mode
	d    time.Duration
	at   time.Time
}

// After requests expiry d from now. Zero means never; negative durations
// fall back to DefaultTTL.
func After(d time.Duration) TTL { return TTL{mode: modeAfter, d: d} }

// At requests expiry at t. A t that is not in the future falls back to
// DefaultTTL from now.
func At(t time.Time) TTL { return TTL{mode: modeAt, at: t} }

// Never requests that the datum never expires, overriding the store default.
func Never() TTL { return TTL{mode: modeNever} }

// IsSet reports whether the request was given explicitly.
func (t TTL) IsSet() bool { return t.mode != modeUnset }

// Resolve returns the absolute expiry in epoch milliseconds for req, or 0
// for no expiry. An unset req uses def with the same rules as After.
func Resolve(req TTL, def time.Duration, now time.Time) int64 {
	if !req.IsSet() {
		req = After(def)
	}

	switch req.mode {
	case modeAfter:
		switch {
		case req.d > 0:
			return now.Add(req.d).UnixMilli()
		case req.d < 0:
			return now.Add(DefaultTTL).UnixMilli()
		default:
			return 0
		}
	case modeAt:
		if req.at.After(now) {
			return req.at.UnixMilli()
		}
		return now.Add(DefaultTTL).UnixMilli()
	default:
		return 0
	}
}

// IsExpired reports whether d carries a TTL that lies before now.
func IsExpired(d datastore.Datum, now time.Time) bool {
	return d.TTL != 0 && d.TTL < now.UnixMilli()
}
