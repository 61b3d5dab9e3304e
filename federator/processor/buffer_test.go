package processor

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/eidaws/eidaws/testing/assert"
	"github.com/eidaws/eidaws/testing/require"
)

func TestPayloadBuffer_Memory(t *testing.T) {
	b := newPayloadBuffer(t.TempDir(), 1024)
	defer func() { require.NoError(t, b.Close()) }()

	_, err := b.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = b.Write([]byte("world"))
	require.NoError(t, err)

	assert.Equal(t, int64(11), b.Len())
	tail, err := b.Tail(5)
	require.NoError(t, err)
	assert.DeepEqual(t, []byte("world"), tail)

	r, err := b.Reader()
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out))
}

func TestPayloadBuffer_SpillsToDisk(t *testing.T) {
	dir := t.TempDir()
	b := newPayloadBuffer(dir, 8)

	_, err := b.Write([]byte("0123"))
	require.NoError(t, err)
	_, err = b.Write([]byte("456789"))
	require.NoError(t, err)

	spills, err := filepath.Glob(filepath.Join(dir, "eidaws-buffer-*"))
	require.NoError(t, err)
	assert.Equal(t, 1, len(spills))

	assert.Equal(t, int64(10), b.Len())
	tail, err := b.Tail(4)
	require.NoError(t, err)
	assert.DeepEqual(t, []byte("6789"), tail)

	r, err := b.Reader()
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(out))

	require.NoError(t, b.Close())
	_, err = os.Stat(spills[0])
	assert.Equal(t, true, os.IsNotExist(err))
}

func TestPayloadBuffer_TailBeyondSize(t *testing.T) {
	b := newPayloadBuffer(t.TempDir(), 1024)
	defer func() { require.NoError(t, b.Close()) }()

	_, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	tail, err := b.Tail(10)
	require.NoError(t, err)
	assert.DeepEqual(t, []byte("abc"), tail)
}

func TestPayloadBuffer_LargePayloadRoundTrip(t *testing.T) {
	b := newPayloadBuffer(t.TempDir(), 16)
	defer func() { require.NoError(t, b.Close()) }()

	payload := bytes.Repeat([]byte("chunk-"), 64)
	for i := 0; i < len(payload); i += 24 {
		end := i + 24
		if end > len(payload) {
			end = len(payload)
		}
		_, err := b.Write(payload[i:end])
		require.NoError(t, err)
	}

	r, err := b.Reader()
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.DeepEqual(t, payload, out)
}
