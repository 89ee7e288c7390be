package codec

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

type text struct {
	inner Codec
	enc   encoding.Encoding
}

// WithEncoding transcodes the UTF-8 output of inner into the named text
// encoding (WHATWG names such as "latin1", "windows-1252", "utf-16le") and
// back. UTF-8 and an empty name return inner unchanged.
func WithEncoding(inner Codec, name string) (Codec, error) {
	if isUTF8(name) {
		return inner, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown text encoding %q: %w", name, err)
	}
	return &text{inner: inner, enc: enc}, nil
}

func (c *text) Marshal(v any) ([]byte, error) {
	data, err := c.inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	return c.enc.NewEncoder().Bytes(data)
}

func (c *text) Unmarshal(data []byte, v any) error {
	raw, err := c.enc.NewDecoder().Bytes(data)
	if err != nil {
		return err
	}
	return c.inner.Unmarshal(raw, v)
}

func isUTF8(name string) bool {
	switch strings.ToLower(strings.ReplaceAll(name, "-", "")) {
	case "", "utf8":
		return true
	}
	return false
}
