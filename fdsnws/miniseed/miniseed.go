// Package miniseed provides the minimal MiniSEED framing helpers the gateway
// needs for splitting and merging dataselect payloads: locating blockette
// 1000 in a record header and deriving the record length. Payload contents
// are never interpreted.
package miniseed

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// FixedHeaderLen is the length of the fixed data header of every record.
	FixedHeaderLen = 48
	// dataOffsetIdx is the offset of the big-endian u16 "beginning of data"
	// field within the fixed header.
	dataOffsetIdx = 44
	// minScanLen bounds the header scan for records whose data offset field
	// is unset.
	minScanLen = 256
	// blockette1000 carries the data record length.
	blockette1000 = 1000
)

// ErrNoBlockette1000 is returned when a record carries no blockette 1000 and
// the record length cannot be derived.
var ErrNoBlockette1000 = errors.New("record without blockette 1000")

// ErrShortRecord is returned when the buffer does not cover the record
// header.
var ErrShortRecord = errors.New("truncated record header")

// RecordLength derives the record length of the MiniSEED record starting at
// buf[0] by scanning its blockette chain for blockette 1000. buf must cover
// at least the record's header section.
func RecordLength(buf []byte) (int, error) {
	if len(buf) < FixedHeaderLen {
		return 0, ErrShortRecord
	}
	dataOffset := int(binary.BigEndian.Uint16(buf[dataOffsetIdx : dataOffsetIdx+2]))
	scanEnd := dataOffset
	if scanEnd < minScanLen {
		scanEnd = minScanLen
	}
	if scanEnd > len(buf) {
		scanEnd = len(buf)
	}

	pos := FixedHeaderLen
	for pos+4 <= scanEnd {
		blocketteID := int(binary.BigEndian.Uint16(buf[pos : pos+2]))
		next := int(binary.BigEndian.Uint16(buf[pos+2 : pos+4]))
		if blocketteID == blockette1000 {
			if pos+7 > len(buf) {
				return 0, ErrShortRecord
			}
			exp := uint(buf[pos+6])
			if exp > 30 {
				return 0, errors.Errorf("implausible record length exponent %d", exp)
			}
			return 1 << exp, nil
		}
		if next <= pos {
			break
		}
		pos = next
	}
	return 0, ErrNoBlockette1000
}

// ValidFallbackRecordLength reports whether a configured fallback record
// length may substitute a missing blockette 1000. Only positive multiples of
// 64 qualify.
func ValidFallbackRecordLength(n int) bool {
	return n > 0 && n%64 == 0
}
