package datastore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/UltraSive/filekv/codec"
	"github.com/UltraSive/filekv/internal/datastore"
)

func TestDir_Ensure_CreatesNested(t *testing.T) {
	root := filepath.Join(t.TempDir(), "a", "b", "storage")
	dir := datastore.NewDir(datastore.Config{Root: root})

	if err := dir.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !info.IsDir() {
		t.Error("root is not a directory")
	}

	// Second call is a no-op.
	if err := dir.Ensure(context.Background()); err != nil {
		t.Errorf("second Ensure() error = %v", err)
	}
}

func TestDir_Ensure_RootIsFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "file")
	writeTestFile(t, filepath.Dir(root), "file", "x")

	dir := datastore.NewDir(datastore.Config{Root: root})
	if err := dir.Ensure(context.Background()); err == nil {
		t.Error("expected error when root is a regular file")
	}
}

func TestDir_WriteRead(t *testing.T) {
	root := t.TempDir()
	dir := datastore.NewDir(datastore.Config{Root: root})

	in := datastore.Datum{Key: "k", Value: map[string]any{"a": float64(1)}, TTL: 42}
	if err := dir.Write(context.Background(), "f1", in); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, ok, err := dir.Read(context.Background(), "f1")
	if err != nil || !ok {
		t.Fatalf("Read() = %v, %v, want ok", ok, err)
	}
	if got.Key != "k" || got.TTL != 42 {
		t.Errorf("Read() = %+v, want key k ttl 42", got)
	}
	if got.Value.(map[string]any)["a"] != float64(1) {
		t.Errorf("Read().Value = %#v", got.Value)
	}

	raw, ok, err := dir.ReadRaw(context.Background(), "f1")
	if err != nil || !ok {
		t.Fatalf("ReadRaw() = %v, %v, want ok", ok, err)
	}
	if string(raw) != `{"key":"k","value":{"a":1},"ttl":42}` {
		t.Errorf("ReadRaw() = %s", raw)
	}
}

func TestDir_Write_Overwrite(t *testing.T) {
	root := t.TempDir()
	dir := datastore.NewDir(datastore.Config{Root: root})

	for _, v := range []string{"v1", "v2"} {
		if err := dir.Write(context.Background(), "f", datastore.Datum{Key: "k", Value: v}); err != nil {
			t.Fatalf("Write(%s) error = %v", v, err)
		}
	}

	got, _, err := dir.Read(context.Background(), "f")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.Value != "v2" {
		t.Errorf("Value = %v, want v2", got.Value)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}

func TestDir_Read_Missing(t *testing.T) {
	dir := datastore.NewDir(datastore.Config{Root: t.TempDir()})

	_, ok, err := dir.Read(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Read() error = %v, want nil for missing file", err)
	}
	if ok {
		t.Error("Read() ok = true for missing file")
	}
}

func TestDir_ReadAll_SkipsHidden(t *testing.T) {
	root := t.TempDir()
	dir := datastore.NewDir(datastore.Config{Root: root})
	if err := dir.Write(context.Background(), "f1", datastore.Datum{Key: "one", Value: 1.0}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	writeTestFile(t, root, ".lock", "not a datum")
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}

	data, err := dir.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(data) != 1 || data[0].Key != "one" {
		t.Errorf("ReadAll() = %+v, want only key one", data)
	}
}

func TestDir_ReadAll_ParsePolicy(t *testing.T) {
	tests := []struct {
		name    string
		forgive bool
		content string
		wantErr bool
	}{
		{name: "garbage strict", forgive: false, content: "}{ nope", wantErr: true},
		{name: "garbage forgiven", forgive: true, content: "}{ nope"},
		{name: "no key strict", forgive: false, content: `{"value":1}`, wantErr: true},
		{name: "no key forgiven", forgive: true, content: `{"value":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			dir := datastore.NewDir(datastore.Config{Root: root, ForgiveParseErrors: tt.forgive})
			if err := dir.Write(context.Background(), "good", datastore.Datum{Key: "good", Value: "ok"}); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			writeTestFile(t, root, "bad", tt.content)

			data, err := dir.ReadAll(context.Background())
			if tt.wantErr {
				if !errors.Is(err, datastore.ErrInvalidDatum) {
					t.Fatalf("ReadAll() error = %v, want %v", err, datastore.ErrInvalidDatum)
				}
				if !strings.Contains(err.Error(), filepath.Join(root, "bad")) {
					t.Errorf("error %q does not name the offending file", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if len(data) != 1 || data[0].Key != "good" {
				t.Errorf("ReadAll() = %+v, want only key good", data)
			}
		})
	}
}

func TestDir_ReadAll_MissingRoot(t *testing.T) {
	dir := datastore.NewDir(datastore.Config{Root: filepath.Join(t.TempDir(), "missing")})
	if _, err := dir.ReadAll(context.Background()); !errors.Is(err, datastore.ErrReadFailed) {
		t.Errorf("ReadAll() error = %v, want %v", err, datastore.ErrReadFailed)
	}
}

func TestDir_Delete(t *testing.T) {
	root := t.TempDir()
	dir := datastore.NewDir(datastore.Config{Root: root})
	if err := dir.Write(context.Background(), "f", datastore.Datum{Key: "k"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	res, err := dir.Delete(context.Background(), "f")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !res.Existed || !res.Removed {
		t.Errorf("Delete() = %+v, want existed and removed", res)
	}

	res, err = dir.Delete(context.Background(), "f")
	if err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if res.Existed || res.Removed {
		t.Errorf("second Delete() = %+v, want neither existed nor removed", res)
	}
}

func TestDir_Delete_Failure(t *testing.T) {
	root := t.TempDir()
	dir := datastore.NewDir(datastore.Config{Root: root})

	// A non-empty directory under the datum name cannot be removed.
	if err := os.MkdirAll(filepath.Join(root, "f", "child"), 0o755); err != nil {
		t.Fatal(err)
	}

	res, err := dir.Delete(context.Background(), "f")
	if !errors.Is(err, datastore.ErrWriteFailed) {
		t.Fatalf("Delete() error = %v, want %v", err, datastore.ErrWriteFailed)
	}
	if res.Removed || res.File != filepath.Join(root, "f") {
		t.Errorf("Delete() = %+v", res)
	}
}

func TestDir_CompressedCodec(t *testing.T) {
	c, err := codec.Compressed(codec.JSON{}, codec.Zstd)
	if err != nil {
		t.Fatalf("Compressed() error = %v", err)
	}
	dir := datastore.NewDir(datastore.Config{Root: t.TempDir(), Codec: c})

	if err := dir.Write(context.Background(), "f", datastore.Datum{Key: "k", Value: "packed"}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, ok, err := dir.Read(context.Background(), "f")
	if err != nil || !ok {
		t.Fatalf("Read() = %v, %v", ok, err)
	}
	if got.Value != "packed" {
		t.Errorf("Value = %v, want packed", got.Value)
	}
}

// writeTestFile creates a file with the given content under root.
func writeTestFile(t *testing.T, root, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}
