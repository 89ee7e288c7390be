package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/UltraSive/filekv/codec"
)

const (
	DefaultDir                = ".filekv/storage"
	DefaultExpiredInterval    = 2 * time.Minute
	DefaultWriteQueueInterval = time.Second
)

// Options configures a Store. The zero value of a field means "use the
// default" when merged with DefaultOptions.
type Options struct {
	// Dir is the storage directory. Relative paths resolve against the
	// working directory.
	Dir string `yaml:"dir"`

	// Codec serializes datums and deep-copies values. When nil, CodecName
	// selects a built-in codec ("json" or "yaml").
	Codec     codec.Codec `yaml:"-"`
	CodecName string      `yaml:"codec"`
	// Compression wraps the codec output: "", "snappy", "zstd" or "lz4".
	Compression string `yaml:"compression"`
	// Encoding is the text encoding of stored files, "utf-8" by default.
	Encoding string `yaml:"encoding"`

	// Logging enables logging to slog.Default. Logger, when set, receives
	// the log output instead and implies Logging.
	Logging bool         `yaml:"logging"`
	Logger  *slog.Logger `yaml:"-"`

	// TTL is the default time to live of every datum. Zero disables
	// expiry; a negative value selects expiry.DefaultTTL.
	TTL time.Duration `yaml:"ttl"`
	// ExpiredInterval is the period of the background expired sweep.
	// Negative disables the sweep.
	ExpiredInterval time.Duration `yaml:"expired_interval"`
	// ForgiveParseErrors skips undecodable files while loading instead of
	// failing Init.
	ForgiveParseErrors bool `yaml:"forgive_parse_errors"`

	// WriteQueue enables write coalescing.
	WriteQueue *bool `yaml:"write_queue"`
	// WriteQueueInterval is the flush period of the write queue.
	WriteQueueInterval time.Duration `yaml:"write_queue_interval"`
	// WriteQueueWriteOnlyLast makes the most recent write of a batch win;
	// false makes the first one win.
	WriteQueueWriteOnlyLast *bool `yaml:"write_queue_write_only_last"`

	// Now is the clock used for expiry, time.Now by default.
	Now func() time.Time `yaml:"-"`
}

// Bool returns a pointer to v for the optional boolean fields of Options.
func Bool(v bool) *bool {
	return &v
}

// DefaultOptions returns the options a Store uses for every field left
// unset.
func DefaultOptions() Options {
	return Options{
		Dir:                     DefaultDir,
		CodecName:               "json",
		Encoding:                "utf-8",
		ExpiredInterval:         DefaultExpiredInterval,
		WriteQueue:              Bool(true),
		WriteQueueInterval:      DefaultWriteQueueInterval,
		WriteQueueWriteOnlyLast: Bool(true),
		Now:                     time.Now,
	}
}

// Merge applies non-zero values from source into o.
func (o *Options) Merge(source *Options) {
	if source.Dir != "" {
		o.Dir = source.Dir
	}
	if source.Codec != nil {
		o.Codec = source.Codec
	}
	if source.CodecName != "" {
		o.CodecName = source.CodecName
	}
	if source.Compression != "" {
		o.Compression = source.Compression
	}
	if source.Encoding != "" {
		o.Encoding = source.Encoding
	}
	if source.Logging {
		o.Logging = true
	}
	if source.Logger != nil {
		o.Logger = source.Logger
	}
	if source.TTL != 0 {
		o.TTL = source.TTL
	}
	if source.ExpiredInterval != 0 {
		o.ExpiredInterval = source.ExpiredInterval
	}
	if source.ForgiveParseErrors {
		o.ForgiveParseErrors = true
	}
	if source.WriteQueue != nil {
		o.WriteQueue = Bool(*source.WriteQueue)
	}
	if source.WriteQueueInterval > 0 {
		o.WriteQueueInterval = source.WriteQueueInterval
	}
	if source.WriteQueueWriteOnlyLast != nil {
		o.WriteQueueWriteOnlyLast = Bool(*source.WriteQueueWriteOnlyLast)
	}
	if source.Now != nil {
		o.Now = source.Now
	}
}

// LoadOptions reads a YAML options file and merges it over the defaults.
func LoadOptions(filename string) (*Options, error) {
	opts := DefaultOptions()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read options file: %w", err)
	}

	var loaded Options
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse options file: %w", err)
	}

	opts.Merge(&loaded)
	return &opts, nil
}

// resolveDir makes dir absolute against the working directory.
func resolveDir(dir string) (string, error) {
	dir = filepath.Clean(dir)
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	return filepath.Abs(dir)
}

// codecs builds the codec used for copies and the full chain used for
// files: base, then text encoding, then compression.
func (o *Options) codecs() (base, file codec.Codec, err error) {
	base = o.Codec
	if base == nil {
		if base, err = codec.ByName(o.CodecName); err != nil {
			return nil, nil, err
		}
	}
	if file, err = codec.WithEncoding(base, o.Encoding); err != nil {
		return nil, nil, err
	}
	if file, err = codec.Compressed(file, o.Compression); err != nil {
		return nil, nil, err
	}
	return base, file, nil
}

func (o *Options) logger() *slog.Logger {
	switch {
	case o.Logger != nil:
		return o.Logger
	case o.Logging:
		return slog.Default()
	default:
		return slog.New(slog.DiscardHandler)
	}
}
