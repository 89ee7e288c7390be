package datastore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/UltraSive/filekv/codec"
)

// Config holds directory store parameters.
type Config struct {
	Root               string
	Codec              codec.Codec
	ForgiveParseErrors bool
	Logger             *slog.Logger
}

// Dir stores one encoded datum per file directly under a root directory.
// Names starting with "." are never treated as datums, which lets lock and
// temp files live next to the data.
type Dir struct {
	root    string
	codec   codec.Codec
	forgive bool
	logger  *slog.Logger
}

var _ Datastore = (*Dir)(nil)

// NewDir creates a Dir from cfg. A nil Codec selects JSON and a nil Logger
// discards log output.
func NewDir(cfg Config) *Dir {
	c := cfg.Codec
	if c == nil {
		c = codec.JSON{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dir{
		root:    cfg.Root,
		codec:   c,
		forgive: cfg.ForgiveParseErrors,
		logger:  logger,
	}
}

// Root returns the directory the store writes to.
func (d *Dir) Root() string {
	return d.root
}

// Path returns the full path of the file called name.
func (d *Dir) Path(name string) string {
	return filepath.Join(d.root, name)
}

// Ensure creates the root directory and its parents if they are missing.
func (d *Dir) Ensure(_ context.Context) error {
	info, err := os.Stat(d.root)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", ErrReadFailed, d.root)
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s: %v", ErrReadFailed, d.root, err)
	}
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, d.root, err)
	}
	d.logger.Debug("created dir", "dir", d.root)
	return nil
}

// ReadAll decodes every non-hidden file under root. Files that fail to
// decode are skipped when parse errors are forgiven and abort the scan
// otherwise.
func (d *Dir) ReadAll(ctx context.Context) ([]Datum, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrReadFailed, d.root, err)
	}

	data := make([]Datum, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.HasPrefix(entry.Name(), ".") || entry.IsDir() {
			continue
		}

		datum, ok, err := d.Read(ctx, entry.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			data = append(data, datum)
		}
	}

	return data, nil
}

// Read decodes the file called name. A missing file is not an error and is
// reported with ok == false, as is an undecodable file when parse errors
// are forgiven.
func (d *Dir) Read(ctx context.Context, name string) (Datum, bool, error) {
	raw, ok, err := d.ReadRaw(ctx, name)
	if err != nil || !ok {
		return Datum{}, false, err
	}

	path := d.Path(name)
	var datum Datum
	err = d.codec.Unmarshal(raw, &datum)
	if err == nil && !datum.Valid() {
		err = errors.New("missing key")
	}
	if err != nil {
		if d.forgive {
			d.logger.Warn("skipping unparsable file", "file", path, "error", err)
			return Datum{}, false, nil
		}
		return Datum{}, false, fmt.Errorf("%s %w: %v", path, ErrInvalidDatum, err)
	}

	return datum, true, nil
}

// ReadRaw returns the undecoded content of the file called name. A missing
// file is reported with ok == false.
func (d *Dir) ReadRaw(_ context.Context, name string) ([]byte, bool, error) {
	path := d.Path(name)
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			d.logger.Debug("file does not exist", "file", path)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %s: %v", ErrReadFailed, path, err)
	}
	return raw, true, nil
}

// Write encodes datum and replaces the file called name with it. The
// content goes to a hidden temp file first and is renamed into place, so a
// concurrent reader never sees a partial record.
func (d *Dir) Write(_ context.Context, name string, datum Datum) error {
	path := d.Path(name)

	data, err := d.codec.Marshal(datum)
	if err != nil {
		return fmt.Errorf("%w: %s: encode: %v", ErrWriteFailed, path, err)
	}

	tmp, err := os.CreateTemp(d.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, path, err)
	}

	d.logger.Debug("wrote", "file", path, "key", datum.Key)
	return nil
}

// Delete removes the file called name. Removing a file that does not exist
// succeeds with Existed == false.
func (d *Dir) Delete(_ context.Context, name string) (DeleteResult, error) {
	path := d.Path(name)
	result := DeleteResult{File: path}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			d.logger.Debug("not removing missing file", "file", path)
			return result, nil
		}
		return result, fmt.Errorf("%w: %s: %v", ErrWriteFailed, path, err)
	}

	result.Removed = true
	result.Existed = true
	d.logger.Debug("removed", "file", path)
	return result, nil
}
