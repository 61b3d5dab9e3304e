package processor

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/eidaws/eidaws/streams"
)

// availabilityWorker collects the availability payload of one network in
// stream order. Jobs run concurrently across networks; the sorted drain
// restores the network order on output.
type availabilityWorker struct {
	client    *endpointClient
	transform func([]byte) []byte
	separator []byte
}

func (w *availabilityWorker) collect(ctx context.Context, entries []routeEntry) ([]byte, error) {
	var out bytes.Buffer
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return out.Bytes(), err
		}
		if w.client.overBudget(ctx, e.url) {
			log.WithField("url", e.url).Debug("Skipping sub-request, retry budget exceeded")
			continue
		}
		resp, err := w.client.do(ctx, e.url, []streams.StreamEpoch{e.se})
		if err != nil {
			log.WithError(err).WithField("url", e.url).Warn("Dropping sub-response")
			continue
		}
		payload := w.read(e.url, resp)
		if len(payload) == 0 {
			continue
		}
		if out.Len() > 0 {
			out.Write(w.separator)
		}
		out.Write(payload)
	}
	return out.Bytes(), nil
}

func (w *availabilityWorker) read(endpointURL string, resp *http.Response) []byte {
	defer drainBody(resp)
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil
	default:
		logUpstream(endpointURL, resp.StatusCode)
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithError(err).WithField("url", endpointURL).Warn("Dropping sub-response")
		return nil
	}
	return bytes.TrimSpace(w.transform(body))
}
