package processor

import (
	"bytes"
	"io"

	"github.com/eidaws/eidaws/fdsnws/miniseed"
	"github.com/pkg/errors"
)

const (
	// detectScanLen is how much of the first record is buffered for the
	// blockette 1000 scan.
	detectScanLen = 512
	// alignChunkLen is the target size of aligned reads; the effective chunk
	// is rounded to a whole number of records.
	alignChunkLen = 16384
)

// mseedAppender aligns MiniSEED sub-responses on record boundaries. The
// record length is detected once per job from the first record's blockette
// 1000; a record repeated at a piece boundary is dropped so split fetches
// concatenate without duplicates.
type mseedAppender struct {
	fallbackRecordSize int

	recordSize int
	chunkSize  int
	lastRecord []byte
}

func (a *mseedAppender) append(body io.Reader, buf *payloadBuffer) error {
	if a.recordSize == 0 {
		detected, rest, err := a.detect(body)
		if err != nil || detected == 0 {
			return err
		}
		a.recordSize = detected
		a.chunkSize = a.recordSize
		if n := alignChunkLen / a.recordSize; n > 1 {
			a.chunkSize = a.recordSize * n
		}
		body = rest
	}

	chunk := make([]byte, a.chunkSize)
	first := true
	for {
		n, err := io.ReadFull(body, chunk)
		if n > 0 {
			data := chunk[:n]
			if rem := n % a.recordSize; rem != 0 {
				log.WithField("bytes", rem).Debug("Dropping truncated trailing record")
				data = data[:n-rem]
			}
			if first && len(data) >= a.recordSize && a.lastRecord != nil &&
				bytes.Equal(data[:a.recordSize], a.lastRecord) {
				data = data[a.recordSize:]
			}
			first = false
			if len(data) > 0 {
				if _, werr := buf.Write(data); werr != nil {
					return werr
				}
				a.lastRecord = append(a.lastRecord[:0], data[len(data)-a.recordSize:]...)
			}
		}
		switch err {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			return nil
		default:
			return err
		}
	}
}

// detect derives the record length from the head of the first sub-response.
// The consumed bytes are handed back as part of the returned reader. A zero
// record size without error signals an empty body.
func (a *mseedAppender) detect(body io.Reader) (int, io.Reader, error) {
	peek := make([]byte, detectScanLen)
	n, err := io.ReadFull(body, peek)
	switch err {
	case nil:
	case io.EOF:
		return 0, nil, nil
	case io.ErrUnexpectedEOF:
		peek = peek[:n]
	default:
		return 0, nil, err
	}

	size, err := miniseed.RecordLength(peek)
	if err != nil {
		if !errors.Is(err, miniseed.ErrNoBlockette1000) ||
			!miniseed.ValidFallbackRecordLength(a.fallbackRecordSize) {
			return 0, nil, errors.Wrap(err, "cannot determine record length")
		}
		log.WithField("recordSize", a.fallbackRecordSize).Debug("Record without blockette 1000, using fallback record length")
		size = a.fallbackRecordSize
	}
	return size, io.MultiReader(bytes.NewReader(peek), body), nil
}
