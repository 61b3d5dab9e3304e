package miniseed

import (
	"encoding/binary"
	"testing"

	"github.com/eidaws/eidaws/testing/assert"
	"github.com/eidaws/eidaws/testing/require"
	"github.com/eidaws/eidaws/testing/util"
)

func TestRecordLength(t *testing.T) {
	for _, length := range []int{64, 512, 4096} {
		rec := util.MiniSEEDRecord(length, 1, 0xAB)
		got, err := RecordLength(rec)
		require.NoError(t, err)
		assert.Equal(t, length, got)
	}
}

func TestRecordLengthHeaderPrefixOnly(t *testing.T) {
	// The scan must succeed on a buffer covering only the header section.
	rec := util.MiniSEEDRecord(4096, 1, 0xAB)
	got, err := RecordLength(rec[:256])
	require.NoError(t, err)
	assert.Equal(t, 4096, got)
}

func TestRecordLengthChainedBlockettes(t *testing.T) {
	rec := util.MiniSEEDRecord(512, 1, 0x00)
	// Interpose a blockette 100 at offset 48 linking to blockette 1000 at 60.
	binary.BigEndian.PutUint16(rec[48:50], 100)
	binary.BigEndian.PutUint16(rec[50:52], 60)
	binary.BigEndian.PutUint16(rec[60:62], 1000)
	binary.BigEndian.PutUint16(rec[62:64], 0)
	rec[66] = 9 // 512

	got, err := RecordLength(rec)
	require.NoError(t, err)
	assert.Equal(t, 512, got)
}

func TestRecordLengthMissingBlockette1000(t *testing.T) {
	rec := util.MiniSEEDRecordNoBlockette1000(512)
	_, err := RecordLength(rec)
	assert.ErrorIs(t, err, ErrNoBlockette1000)
}

func TestRecordLengthShortBuffer(t *testing.T) {
	_, err := RecordLength(make([]byte, FixedHeaderLen-1))
	assert.ErrorIs(t, err, ErrShortRecord)
}

func TestRecordLengthImplausibleExponent(t *testing.T) {
	rec := util.MiniSEEDRecord(512, 1, 0x00)
	rec[54] = 42
	_, err := RecordLength(rec)
	assert.ErrorContains(t, "implausible record length", err)
}

func TestValidFallbackRecordLength(t *testing.T) {
	assert.Equal(t, true, ValidFallbackRecordLength(512))
	assert.Equal(t, true, ValidFallbackRecordLength(64))
	assert.Equal(t, false, ValidFallbackRecordLength(0))
	assert.Equal(t, false, ValidFallbackRecordLength(-512))
	assert.Equal(t, false, ValidFallbackRecordLength(100))
}
