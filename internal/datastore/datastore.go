// Package datastore owns the on-disk side of the store: the datum record,
// one file per key inside a directory, and the envelope used by RocksDB
// deployments that can be imported into that directory.
package datastore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strconv"
	"time"
)

// Sentinel errors for directory operations.
var (
	ErrInvalidDatum = errors.New("does not look like a valid storage file")
	ErrReadFailed   = errors.New("read failed")
	ErrWriteFailed  = errors.New("write failed")
)

// Datum is the unit of storage. TTL is an absolute expiry in epoch
// milliseconds; zero means the datum never expires.
type Datum struct {
	Key   string `json:"key" yaml:"key"`
	Value any    `json:"value" yaml:"value"`
	TTL   int64  `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// Valid reports whether d carries a key.
func (d Datum) Valid() bool {
	return d.Key != ""
}

// ExpiresAt returns the expiry as a time, or the zero time when d never
// expires.
func (d Datum) ExpiresAt() time.Time {
	if d.TTL == 0 {
		return time.Time{}
	}
	return time.UnixMilli(d.TTL)
}

// UnmarshalJSON accepts "ttl" as a number, null or false so directories
// written by older node-persist versions load unchanged.
func (d *Datum) UnmarshalJSON(data []byte) error {
	var raw struct {
		Key   string          `json:"key"`
		Value any             `json:"value"`
		TTL   json.RawMessage `json:"ttl"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Key = raw.Key
	d.Value = raw.Value
	d.TTL = 0

	ttl := bytes.TrimSpace(raw.TTL)
	switch string(ttl) {
	case "", "null", "false":
		return nil
	}
	ms, err := strconv.ParseFloat(string(ttl), 64)
	if err != nil {
		return &json.UnmarshalTypeError{Value: string(ttl), Type: reflect.TypeOf(d.TTL), Field: "ttl"}
	}
	d.TTL = int64(ms)
	return nil
}

// DeleteResult reports the outcome of removing a key's file.
type DeleteResult struct {
	File    string
	Removed bool
	Existed bool
}

// Datastore defines the file operations the write queue and the store need.
type Datastore interface {
	// Path returns the full path of the file called name.
	Path(name string) string
	Ensure(ctx context.Context) error
	ReadAll(ctx context.Context) ([]Datum, error)
	Read(ctx context.Context, name string) (Datum, bool, error)
	ReadRaw(ctx context.Context, name string) ([]byte, bool, error)
	Write(ctx context.Context, name string, d Datum) error
	Delete(ctx context.Context, name string) (DeleteResult, error)
}
