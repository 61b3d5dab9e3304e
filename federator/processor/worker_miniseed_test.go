package processor

import (
	"bytes"
	"io"
	"testing"

	"github.com/eidaws/eidaws/testing/assert"
	"github.com/eidaws/eidaws/testing/require"
	"github.com/eidaws/eidaws/testing/util"
)

func appendBody(t *testing.T, a *mseedAppender, buf *payloadBuffer, body []byte) {
	t.Helper()
	require.NoError(t, a.append(bytes.NewReader(body), buf))
}

func bufferedBytes(t *testing.T, buf *payloadBuffer) []byte {
	t.Helper()
	r, err := buf.Reader()
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return out
}

func TestMSeedAppender_DetectsRecordLength(t *testing.T) {
	a := &mseedAppender{}
	buf := newPayloadBuffer(t.TempDir(), 0)
	defer func() { _ = buf.Close() }()

	stream := util.MiniSEEDStream(512, 'a', 'b', 'c')
	appendBody(t, a, buf, stream)

	assert.Equal(t, 512, a.recordSize)
	assert.DeepEqual(t, stream, bufferedBytes(t, buf))
}

func TestMSeedAppender_ChunkSizeAlignsToRecords(t *testing.T) {
	tests := []struct {
		name       string
		recordSize int
		want       int
	}{
		{name: "small records", recordSize: 512, want: 16384},
		{name: "chunk sized records", recordSize: 16384, want: 16384},
		{name: "oversized records", recordSize: 32768, want: 32768},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &mseedAppender{}
			buf := newPayloadBuffer(t.TempDir(), 0)
			defer func() { _ = buf.Close() }()

			appendBody(t, a, buf, util.MiniSEEDRecord(tt.recordSize, 1, 'x'))
			assert.Equal(t, tt.want, a.chunkSize)
		})
	}
}

func TestMSeedAppender_DropsBoundaryDuplicate(t *testing.T) {
	a := &mseedAppender{}
	buf := newPayloadBuffer(t.TempDir(), 0)
	defer func() { _ = buf.Close() }()

	rec1 := util.MiniSEEDRecord(512, 1, 'a')
	rec2 := util.MiniSEEDRecord(512, 2, 'b')
	rec3 := util.MiniSEEDRecord(512, 3, 'c')

	// The second piece starts with the record the first piece ended with.
	appendBody(t, a, buf, append(append([]byte{}, rec1...), rec2...))
	appendBody(t, a, buf, append(append([]byte{}, rec2...), rec3...))

	want := append(append(append([]byte{}, rec1...), rec2...), rec3...)
	assert.DeepEqual(t, want, bufferedBytes(t, buf))
}

func TestMSeedAppender_KeepsDistinctBoundaryRecords(t *testing.T) {
	a := &mseedAppender{}
	buf := newPayloadBuffer(t.TempDir(), 0)
	defer func() { _ = buf.Close() }()

	rec1 := util.MiniSEEDRecord(512, 1, 'a')
	rec2 := util.MiniSEEDRecord(512, 2, 'b')
	appendBody(t, a, buf, rec1)
	appendBody(t, a, buf, rec2)

	want := append(append([]byte{}, rec1...), rec2...)
	assert.DeepEqual(t, want, bufferedBytes(t, buf))
}

func TestMSeedAppender_DropsTruncatedTrailingRecord(t *testing.T) {
	a := &mseedAppender{}
	buf := newPayloadBuffer(t.TempDir(), 0)
	defer func() { _ = buf.Close() }()

	rec := util.MiniSEEDRecord(512, 1, 'a')
	body := append(append([]byte{}, rec...), util.MiniSEEDRecord(512, 2, 'b')[:100]...)
	appendBody(t, a, buf, body)

	assert.DeepEqual(t, rec, bufferedBytes(t, buf))
}

func TestMSeedAppender_FallbackRecordLength(t *testing.T) {
	a := &mseedAppender{fallbackRecordSize: 512}
	buf := newPayloadBuffer(t.TempDir(), 0)
	defer func() { _ = buf.Close() }()

	rec := util.MiniSEEDRecordNoBlockette1000(512)
	appendBody(t, a, buf, rec)

	assert.Equal(t, 512, a.recordSize)
	assert.DeepEqual(t, rec, bufferedBytes(t, buf))
}

func TestMSeedAppender_NoBlockette1000WithoutFallback(t *testing.T) {
	a := &mseedAppender{}
	buf := newPayloadBuffer(t.TempDir(), 0)
	defer func() { _ = buf.Close() }()

	err := a.append(bytes.NewReader(util.MiniSEEDRecordNoBlockette1000(512)), buf)
	require.NotNil(t, err)
	assert.Equal(t, int64(0), buf.Len())
}

func TestMSeedAppender_EmptyBody(t *testing.T) {
	a := &mseedAppender{}
	buf := newPayloadBuffer(t.TempDir(), 0)
	defer func() { _ = buf.Close() }()

	appendBody(t, a, buf, nil)
	assert.Equal(t, int64(0), buf.Len())
	assert.Equal(t, 0, a.recordSize)
}

func TestMSeedAppender_ManyRecordsAcrossChunks(t *testing.T) {
	a := &mseedAppender{}
	buf := newPayloadBuffer(t.TempDir(), 0)
	defer func() { _ = buf.Close() }()

	fills := make([]byte, 100)
	for i := range fills {
		fills[i] = byte('a' + i%26)
	}
	stream := util.MiniSEEDStream(512, fills...)
	appendBody(t, a, buf, stream)

	assert.Equal(t, int64(len(stream)), buf.Len())
	assert.DeepEqual(t, stream, bufferedBytes(t, buf))
}
