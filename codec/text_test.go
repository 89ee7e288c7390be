package codec_test

import (
	"bytes"
	"testing"

	"github.com/UltraSive/filekv/codec"
)

func TestWithEncoding_UTF8Passthrough(t *testing.T) {
	for _, name := range []string{"", "utf8", "UTF-8", "utf-8"} {
		c, err := codec.WithEncoding(codec.JSON{}, name)
		if err != nil {
			t.Fatalf("WithEncoding(%q) error = %v", name, err)
		}
		if _, ok := c.(codec.JSON); !ok {
			t.Errorf("WithEncoding(%q) = %T, want codec.JSON", name, c)
		}
	}
}

func TestWithEncoding_Latin1(t *testing.T) {
	c, err := codec.WithEncoding(codec.JSON{}, "latin1")
	if err != nil {
		t.Fatalf("WithEncoding() error = %v", err)
	}

	data, err := c.Marshal("café")
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	// é is a single byte (0xE9) in latin1.
	if !bytes.Equal(data, []byte{'"', 'c', 'a', 'f', 0xE9, '"'}) {
		t.Errorf("Marshal() = %v, want latin1 bytes", data)
	}

	var out string
	if err := c.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out != "café" {
		t.Errorf("Unmarshal() = %q, want %q", out, "café")
	}
}

func TestWithEncoding_Unknown(t *testing.T) {
	if _, err := codec.WithEncoding(codec.JSON{}, "klingon"); err == nil {
		t.Error("expected error for unknown encoding")
	}
}
