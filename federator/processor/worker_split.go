package processor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eidaws/eidaws/fdsnws"
	"github.com/eidaws/eidaws/streams"
)

// minSplitDuration is the smallest window the split-and-align protocol still
// divides. Endpoints rejecting windows below it are reported upward.
const minSplitDuration = time.Minute

// payloadAppender merges one accepted sub-response body into the job buffer,
// deduplicating the boundary with the previously appended piece.
type payloadAppender interface {
	append(body io.Reader, buf *payloadBuffer) error
}

// splitWorker runs the split-and-align protocol for one granular stream
// epoch: windows an endpoint rejects with 413 are sliced into smaller pieces
// and refetched in chronological order, with the appender aligning the piece
// boundaries. The merged payload is emitted as a single chunk.
type splitWorker struct {
	client          *endpointClient
	appender        payloadAppender
	splittingFactor int
	maxSplits       int
	tempDir         string
	rollover        int
	now             func() time.Time
}

func (w *splitWorker) run(ctx context.Context, endpointURL string, se streams.StreamEpoch, rw *responseWriter) error {
	buf := newPayloadBuffer(w.tempDir, w.rollover)
	defer func() { _ = buf.Close() }()

	pending := []streams.StreamEpoch{se}
	splits := 0
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur := pending[0]
		pending = pending[1:]

		if w.client.overBudget(ctx, endpointURL) {
			log.WithField("url", endpointURL).Debug("Dropping sub-request, retry budget exceeded")
			return nil
		}
		resp, err := w.client.do(ctx, endpointURL, []streams.StreamEpoch{cur})
		if err != nil {
			log.WithError(err).WithField("url", endpointURL).Warn("Dropping sub-response")
			continue
		}

		switch resp.StatusCode {
		case http.StatusOK:
			err := w.appender.append(resp.Body, buf)
			drainBody(resp)
			if err != nil {
				log.WithError(err).WithField("url", endpointURL).Warn("Dropping sub-response")
			}
		case http.StatusNoContent:
			drainBody(resp)
		case http.StatusRequestEntityTooLarge:
			drainBody(resp)
			if cur.EndTime.IsZero() {
				cur.EndTime = w.now().UTC()
			}
			if splits >= w.maxSplits || cur.Duration() < minSplitDuration {
				return fdsnws.NewError(http.StatusRequestEntityTooLarge,
					fmt.Sprintf("endpoint rejected %s and the window cannot be split further", cur))
			}
			pieces, err := cur.Slice(w.splittingFactor)
			if err != nil {
				return err
			}
			splits++
			splitOperations.Inc()
			pending = append(pieces, pending...)
		default:
			drainBody(resp)
			logUpstream(endpointURL, resp.StatusCode)
		}
	}

	if buf.Len() == 0 {
		return nil
	}
	r, err := buf.Reader()
	if err != nil {
		return err
	}
	return rw.WriteChunkFrom(r)
}
