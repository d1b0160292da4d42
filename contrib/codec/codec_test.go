package codec_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexvasilkov/inflow-go/contrib/codec"
)

type payload struct {
	A int
	B string
}

func TestPrependLengthAndSplitFrame(t *testing.T) {
	msg := []byte("hello")
	framed := codec.PrependLength(msg)

	frame, rest, err := codec.SplitFrame(append(framed, codec.PrependLength([]byte("world"))...))
	require.NoError(t, err)
	assert.Equal(t, msg, frame)

	frame2, rest2, err := codec.SplitFrame(rest)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), frame2)
	assert.Empty(t, rest2)
}

func TestSplitFrame_ShortData(t *testing.T) {
	_, _, err := codec.SplitFrame([]byte{1, 2})
	assert.ErrorIs(t, err, codec.ErrShortFrame)
}

func TestCompressedCodec_RoundTripsAndFallsBackWhenNotShrunk(t *testing.T) {
	c := codec.Compressed{Inner: codec.JSON{}, Compressor: codec.Lz4Compressor{}}

	in := payload{A: 42, B: "lz4 roundtrip"}
	data, err := c.Marshal(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestNoneCompressor_IsIdentity(t *testing.T) {
	src := []byte("unchanged")
	compressed, err := codec.NoneCompressor{}.Compress(src)
	require.NoError(t, err)
	assert.Equal(t, src, compressed)

	decompressed, err := codec.NoneCompressor{}.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, src, decompressed)
}

func TestEncryptedCodec_RoundTrips(t *testing.T) {
	enc, err := codec.NewEncrypted(codec.JSON{}, []byte("0123456789abcdef"), []byte("abcdef0123456789"))
	require.NoError(t, err)

	in := payload{A: 7, B: "secret"}
	data, err := enc.Marshal(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, enc.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestEncryptedCodec_RejectsBadKeyLength(t *testing.T) {
	_, err := codec.NewEncrypted(codec.JSON{}, []byte("short"), []byte("abcdef0123456789"))
	assert.Error(t, err)
}

func TestFileCache_WriteThenSubscribeEmitsLatest(t *testing.T) {
	dir := t.TempDir()
	fc := codec.FileCache[payload]{
		Path:         filepath.Join(dir, "cache.json"),
		Codec:        codec.JSON{},
		PollInterval: 10 * time.Millisecond,
	}

	require.NoError(t, fc.Write(context.Background(), payload{A: 1, B: "one"}))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	received := make(chan payload, 4)
	go func() {
		_ = fc.Subscribe(ctx, func(v payload) error {
			received <- v
			return nil
		})
	}()

	first := <-received
	assert.Equal(t, payload{A: 1, B: "one"}, first)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, fc.Write(context.Background(), payload{A: 2, B: "two"}))

	select {
	case v := <-received:
		assert.Equal(t, payload{A: 2, B: "two"}, v)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for updated value")
	}
}

func TestFileCache_MissingFileEmitsZeroValue(t *testing.T) {
	dir := t.TempDir()
	fc := codec.FileCache[payload]{Path: filepath.Join(dir, "missing.json"), Codec: codec.JSON{}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var got payload
	var gotErr error
	done := make(chan struct{})
	go func() {
		gotErr = fc.Subscribe(ctx, func(v payload) error {
			got = v
			cancel()
			return nil
		})
		close(done)
	}()
	<-done

	assert.Equal(t, payload{}, got)
	assert.ErrorIs(t, gotErr, context.Canceled)
	_, statErr := os.Stat(fc.Path)
	assert.True(t, os.IsNotExist(statErr))
}
