package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm compresses the bytes produced by an inner codec.
type Algorithm interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Name() string
}

// Algorithm names accepted by Compressed.
const (
	Snappy = "snappy"
	Zstd   = "zstd"
	LZ4    = "lz4"
)

type compressed struct {
	inner Codec
	alg   Algorithm
}

// Compressed wraps inner so every marshalled record is compressed with the
// named algorithm. An empty name or "none" returns inner unchanged.
func Compressed(inner Codec, algorithm string) (Codec, error) {
	alg, err := newAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	if alg == nil {
		return inner, nil
	}
	return &compressed{inner: inner, alg: alg}, nil
}

func (c *compressed) Marshal(v any) ([]byte, error) {
	data, err := c.inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	out, err := c.alg.Compress(data)
	if err != nil {
		return nil, fmt.Errorf("%s compress: %w", c.alg.Name(), err)
	}
	return out, nil
}

func (c *compressed) Unmarshal(data []byte, v any) error {
	raw, err := c.alg.Decompress(data)
	if err != nil {
		return fmt.Errorf("%s decompress: %w", c.alg.Name(), err)
	}
	return c.inner.Unmarshal(raw, v)
}

func newAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "", "none":
		return nil, nil
	case Snappy:
		return snappyAlgorithm{}, nil
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		return &zstdAlgorithm{encoder: enc, decoder: dec}, nil
	case LZ4:
		return lz4Algorithm{}, nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm: %s", name)
	}
}

type snappyAlgorithm struct{}

func (snappyAlgorithm) Name() string { return Snappy }

func (snappyAlgorithm) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyAlgorithm) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

// EncodeAll and DecodeAll are safe for concurrent use, so one encoder and
// decoder pair serves every caller.
type zstdAlgorithm struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func (*zstdAlgorithm) Name() string { return Zstd }

func (a *zstdAlgorithm) Compress(data []byte) ([]byte, error) {
	return a.encoder.EncodeAll(data, nil), nil
}

func (a *zstdAlgorithm) Decompress(data []byte) ([]byte, error) {
	return a.decoder.DecodeAll(data, nil)
}

type lz4Algorithm struct{}

func (lz4Algorithm) Name() string { return LZ4 }

func (lz4Algorithm) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Algorithm) Decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}
