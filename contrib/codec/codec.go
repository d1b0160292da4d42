// Package codec supplies the value (de)serialization and compression
// adapters that contrib's networked CacheStream/CacheWriter
// implementations (redisinflow, replicainflow) encode cached values
// with before putting them on the wire.
package codec

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// Codec converts a Go value to and from its wire representation.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Compressor shrinks (and restores) an already-marshaled payload. A
// compressor that cannot shrink src below its original size returns
// ErrNotShrunk so callers can fall back to storing it uncompressed.
type Compressor interface {
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

var (
	// ErrNotShrunk is returned by a Compressor when compression did not
	// reduce the payload size.
	ErrNotShrunk = errors.New("codec: compressed size not reduced")
	// ErrShortFrame is returned by SplitFrame when data is too short to
	// contain a length prefix.
	ErrShortFrame = errors.New("codec: frame shorter than length prefix")
)

// PrependLength frames payload with a 4-byte big-endian length prefix,
// so a single byte stream can carry back-to-back messages without a
// delimiter.
func PrependLength(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// SplitFrame extracts the first length-prefixed message from data,
// returning it along with the remaining unread bytes.
func SplitFrame(data []byte) (frame []byte, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, ErrShortFrame
	}
	n := binary.BigEndian.Uint32(data)
	if uint32(len(data)-4) < n {
		return nil, nil, ErrShortFrame
	}
	return data[4 : 4+n], data[4+n:], nil
}
