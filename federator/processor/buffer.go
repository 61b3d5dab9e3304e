package processor

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
)

// defaultBufferRollover is the in-memory size beyond which worker buffers
// spill to disk.
const defaultBufferRollover = 512 * 1024

// payloadBuffer accumulates parsed worker output across the sub-requests of
// one logical stream epoch. Small payloads stay in memory; once the rollover
// threshold is passed the buffered bytes spill into a temporary file.
type payloadBuffer struct {
	dir      string
	rollover int

	mem  bytes.Buffer
	file *os.File
	size int64
}

func newPayloadBuffer(dir string, rollover int) *payloadBuffer {
	if rollover <= 0 {
		rollover = defaultBufferRollover
	}
	return &payloadBuffer{dir: dir, rollover: rollover}
}

// Write appends p, spilling to disk when the in-memory share grows past the
// rollover threshold.
func (b *payloadBuffer) Write(p []byte) (int, error) {
	if b.file == nil && b.mem.Len()+len(p) > b.rollover {
		f, err := os.CreateTemp(b.dir, "eidaws-buffer-*")
		if err != nil {
			return 0, errors.Wrap(err, "buffer rollover failed")
		}
		if _, err := f.Write(b.mem.Bytes()); err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
			return 0, err
		}
		b.file = f
		b.mem.Reset()
	}
	var (
		n   int
		err error
	)
	if b.file != nil {
		n, err = b.file.Write(p)
	} else {
		n, err = b.mem.Write(p)
	}
	b.size += int64(n)
	return n, err
}

// Len returns the number of buffered bytes.
func (b *payloadBuffer) Len() int64 {
	return b.size
}

// Tail returns the last n buffered bytes, or all of them when fewer are
// held.
func (b *payloadBuffer) Tail(n int) ([]byte, error) {
	if int64(n) > b.size {
		n = int(b.size)
	}
	if n == 0 {
		return nil, nil
	}
	if b.file == nil {
		mem := b.mem.Bytes()
		return append([]byte(nil), mem[len(mem)-n:]...), nil
	}
	out := make([]byte, n)
	if _, err := b.file.ReadAt(out, b.size-int64(n)); err != nil {
		return nil, err
	}
	return out, nil
}

// Reader returns a reader over the buffered bytes, positioned at the start.
// The buffer must not be written to afterwards.
func (b *payloadBuffer) Reader() (io.Reader, error) {
	if b.file == nil {
		return bytes.NewReader(b.mem.Bytes()), nil
	}
	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return b.file, nil
}

// Close releases the spill file, if any.
func (b *payloadBuffer) Close() error {
	if b.file == nil {
		return nil
	}
	name := b.file.Name()
	err := b.file.Close()
	if rmErr := os.Remove(name); err == nil {
		err = rmErr
	}
	b.file = nil
	return err
}
