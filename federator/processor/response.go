package processor

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// responseWriter serializes worker output into the client response. The
// response is prepared lazily on the first chunk: status and content type
// are sent, then the format header. Later chunks are prefixed with the
// format separator. Every emitted byte is mirrored for the response cache
// when mirroring is enabled.
type responseWriter struct {
	w           http.ResponseWriter
	contentType string
	header      []byte
	footer      []byte
	separator   []byte

	mu       sync.Mutex
	prepared bool
	chunks   int
	written  int64
	mirror   *bytes.Buffer
	err      error
}

func newResponseWriter(w http.ResponseWriter, contentType string, header, footer, separator []byte, mirror bool) *responseWriter {
	rw := &responseWriter{
		w:           w,
		contentType: contentType,
		header:      header,
		footer:      footer,
		separator:   separator,
	}
	if mirror {
		rw.mirror = &bytes.Buffer{}
	}
	return rw
}

// WriteChunk emits one worker chunk. Empty chunks are dropped without
// preparing the response.
func (rw *responseWriter) WriteChunk(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	return rw.WriteChunkFrom(bytes.NewReader(p))
}

// WriteChunkFrom emits one worker chunk streamed from r, preparing the
// response first when needed. r must yield at least one byte; callers check
// emptiness before handing their buffers over.
func (rw *responseWriter) WriteChunkFrom(r io.Reader) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.err != nil {
		return rw.err
	}
	if !rw.prepared {
		rw.w.Header().Set("Content-Type", rw.contentType)
		rw.w.WriteHeader(http.StatusOK)
		rw.prepared = true
		if err := rw.push(rw.header); err != nil {
			return err
		}
	} else if rw.chunks > 0 {
		if err := rw.push(rw.separator); err != nil {
			return err
		}
	}
	n, err := io.Copy(rw.sink(), r)
	rw.written += n
	if err != nil {
		rw.err = err
		return err
	}
	rw.chunks++
	if f, ok := rw.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// Finish emits the format footer on a prepared response. Unprepared
// responses stay untouched so the caller can emit its no-data status.
func (rw *responseWriter) Finish() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if !rw.prepared || rw.err != nil {
		return rw.err
	}
	return rw.push(rw.footer)
}

// Prepared reports whether any response byte was sent.
func (rw *responseWriter) Prepared() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.prepared
}

// Written returns the number of response bytes emitted, envelope included.
func (rw *responseWriter) Written() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.written
}

// Mirrored returns the complete mirrored response, or nil when the response
// failed midway or mirroring is disabled.
func (rw *responseWriter) Mirrored() []byte {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.mirror == nil || rw.err != nil {
		return nil
	}
	return rw.mirror.Bytes()
}

// DiscardMirror drops the mirrored bytes of a failed or partial response.
func (rw *responseWriter) DiscardMirror() {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.mirror = nil
}

func (rw *responseWriter) push(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	n, err := rw.sink().Write(p)
	rw.written += int64(n)
	if err != nil {
		rw.err = err
	}
	return err
}

func (rw *responseWriter) sink() io.Writer {
	if rw.mirror != nil {
		return io.MultiWriter(rw.w, rw.mirror)
	}
	return rw.w
}
