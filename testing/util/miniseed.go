package util

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MiniSEEDRecord synthesizes one MiniSEED record of the given length carrying
// a blockette 1000. The data section is filled with the fill byte so records
// remain distinguishable after concatenation. length must be a power of two
// of at least 64.
func MiniSEEDRecord(length int, seq int, fill byte) []byte {
	exp := uint(0)
	for 1<<exp < length {
		exp++
	}
	if 1<<exp != length || length < 64 {
		panic(fmt.Sprintf("invalid record length %d", length))
	}
	rec := make([]byte, length)
	copy(rec, []byte(fmt.Sprintf("%06dD ", seq%1000000)))
	binary.BigEndian.PutUint16(rec[44:46], 64) // beginning of data
	binary.BigEndian.PutUint16(rec[46:48], 48) // first blockette
	binary.BigEndian.PutUint16(rec[48:50], 1000)
	binary.BigEndian.PutUint16(rec[50:52], 0)
	rec[52] = 10 // encoding: Steim-1
	rec[53] = 1  // big endian word order
	rec[54] = byte(exp)
	for i := 64; i < length; i++ {
		rec[i] = fill
	}
	return rec
}

// MiniSEEDRecordNoBlockette1000 synthesizes a record whose blockette chain
// does not include blockette 1000.
func MiniSEEDRecordNoBlockette1000(length int) []byte {
	rec := make([]byte, length)
	copy(rec, []byte("000001D "))
	binary.BigEndian.PutUint16(rec[44:46], 64)
	binary.BigEndian.PutUint16(rec[46:48], 0)
	return rec
}

// MiniSEEDStream concatenates records of one record length, tagging each with
// an increasing sequence number and the given fill bytes.
func MiniSEEDStream(length int, fills ...byte) []byte {
	var b bytes.Buffer
	for i, fill := range fills {
		b.Write(MiniSEEDRecord(length, i+1, fill))
	}
	return b.Bytes()
}
