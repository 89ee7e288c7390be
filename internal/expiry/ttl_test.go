package expiry_test

import (
	"testing"
	"time"

	"github.com/UltraSive/filekv/internal/datastore"
	"github.com/UltraSive/filekv/internal/expiry"
)

func TestResolve(t *testing.T) {
	now := time.UnixMilli(1_000_000)
	ms := func(d time.Duration) int64 { return now.Add(d).UnixMilli() }

	tests := []struct {
		name string
		req  expiry.TTL
		def  time.Duration
		want int64
	}{
		{name: "unset no default", req: expiry.TTL{}, def: 0, want: 0},
		{name: "unset uses default", req: expiry.TTL{}, def: time.Second, want: ms(time.Second)},
		{name: "unset invalid default", req: expiry.TTL{}, def: -1, want: ms(expiry.DefaultTTL)},
		{name: "explicit wins over default", req: expiry.After(5 * time.Second), def: time.Second, want: ms(5 * time.Second)},
		{name: "explicit zero disables default", req: expiry.After(0), def: time.Second, want: 0},
		{name: "never disables default", req: expiry.Never(), def: time.Second, want: 0},
		{name: "negative falls back", req: expiry.After(-time.Second), def: 0, want: ms(expiry.DefaultTTL)},
		{name: "future time", req: expiry.At(now.Add(time.Hour)), def: 0, want: ms(time.Hour)},
		{name: "past time falls back", req: expiry.At(now.Add(-time.Hour)), def: 0, want: ms(expiry.DefaultTTL)},
		{name: "now falls back", req: expiry.At(now), def: 0, want: ms(expiry.DefaultTTL)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expiry.Resolve(tt.req, tt.def, now); got != tt.want {
				t.Errorf("Resolve() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsExpired(t *testing.T) {
	now := time.UnixMilli(5000)

	tests := []struct {
		name string
		ttl  int64
		want bool
	}{
		{name: "no ttl", ttl: 0, want: false},
		{name: "future", ttl: 5001, want: false},
		{name: "exactly now", ttl: 5000, want: false},
		{name: "past", ttl: 4999, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := datastore.Datum{Key: "k", TTL: tt.ttl}
			if got := expiry.IsExpired(d, now); got != tt.want {
				t.Errorf("IsExpired(ttl=%d) = %v, want %v", tt.ttl, got, tt.want)
			}
		})
	}
}

func TestTTL_IsSet(t *testing.T) {
	if (expiry.TTL{}).IsSet() {
		t.Error("zero TTL should not be set")
	}
	for _, req := range []expiry.TTL{expiry.After(0), expiry.Never(), expiry.At(time.Time{})} {
		if !req.IsSet() {
			t.Errorf("%+v should be set", req)
		}
	}
}
