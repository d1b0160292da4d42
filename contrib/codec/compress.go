package codec

import (
	"bytes"

	ddzstd "github.com/DataDog/zstd"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
)

// NoneCompressor is the identity Compressor, used when a cached value is
// small enough that framing overhead would outweigh any savings.
type NoneCompressor struct{}

func (NoneCompressor) Compress(src []byte) ([]byte, error)   { return src, nil }
func (NoneCompressor) Decompress(src []byte) ([]byte, error) { return src, nil }

// ZstdCompressor compresses with klauspost/compress's pure-Go zstd
// encoder/decoder. DdzstdCompress/DdzstdDecompress expose the cgo-backed
// DataDog/zstd codec as an alternative backend for deployments that
// prefer its throughput over a pure-Go implementation.
type ZstdCompressor struct{}

func (ZstdCompressor) Compress(src []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	compressed := enc.EncodeAll(src, nil)
	if len(compressed) >= len(src) {
		return nil, ErrNotShrunk
	}
	return compressed, nil
}

func (ZstdCompressor) Decompress(src []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(src, nil)
}

// DdzstdCompress compresses src with the cgo-backed DataDog/zstd bindings.
func DdzstdCompress(src []byte) ([]byte, error) {
	buf := make([]byte, ddzstd.CompressBound(len(src)))
	return ddzstd.CompressLevel(buf, src, ddzstd.DefaultCompression)
}

// DdzstdDecompress restores a payload produced by DdzstdCompress. dstSize
// must be at least as large as the original uncompressed payload.
func DdzstdDecompress(src []byte, dstSize int) ([]byte, error) {
	out := make([]byte, dstSize)
	return ddzstd.Decompress(out, src)
}

// Lz4Compressor trades compression ratio for speed, useful for
// low-latency cache entries that are refreshed often.
type Lz4Compressor struct{}

func (Lz4Compressor) Compress(src []byte) ([]byte, error) {
	// Write an lz4 frame, the format Decompress reads back.
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	if buf.Len() >= len(src) {
		return nil, ErrNotShrunk
	}
	return buf.Bytes(), nil
}

func (Lz4Compressor) Decompress(src []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Compressed wraps a Codec, compressing its marshaled output with
// Compressor and falling back to the uncompressed payload (prefixed with
// a marker byte) whenever compression doesn't shrink it.
type Compressed struct {
	Inner      Codec
	Compressor Compressor
}

const (
	flagRaw        byte = 0
	flagCompressed byte = 1
)

func (c Compressed) Marshal(v any) ([]byte, error) {
	raw, err := c.Inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	compressed, err := c.Compressor.Compress(raw)
	if err != nil {
		return append([]byte{flagRaw}, raw...), nil
	}
	return append([]byte{flagCompressed}, compressed...), nil
}

func (c Compressed) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return c.Inner.Unmarshal(data, v)
	}
	switch data[0] {
	case flagCompressed:
		raw, err := c.Compressor.Decompress(data[1:])
		if err != nil {
			return err
		}
		return c.Inner.Unmarshal(raw, v)
	default:
		return c.Inner.Unmarshal(data[1:], v)
	}
}
