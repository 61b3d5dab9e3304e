package processor

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/eidaws/eidaws/streams"
	"github.com/pkg/errors"
)

// stripHeaderLine drops the leading comment line of a text payload. Station
// and availability text responses repeat it per endpoint; the federated
// response carries it exactly once.
func stripHeaderLine(body []byte) []byte {
	if len(body) == 0 || body[0] != '#' {
		return body
	}
	idx := bytes.IndexByte(body, '\n')
	if idx < 0 {
		return nil
	}
	return body[idx+1:]
}

// geoCSVHeaderLines is the number of metadata lines a GeoCSV availability
// payload starts with.
const geoCSVHeaderLines = 5

// stripGeoCSVHeader drops the GeoCSV metadata block preceding the data rows.
func stripGeoCSVHeader(body []byte) []byte {
	rest := body
	for i := 0; i < geoCSVHeaderLines; i++ {
		idx := bytes.IndexByte(rest, '\n')
		if idx < 0 {
			return nil
		}
		rest = rest[idx+1:]
	}
	return rest
}

// extractDatasources returns the content of the datasources array of an
// availability JSON payload, i.e. the comma separated datasource objects
// without the enclosing brackets.
func extractDatasources(body []byte) []byte {
	key := bytes.Index(body, []byte(`"datasources"`))
	if key < 0 {
		return nil
	}
	open := bytes.IndexByte(body[key:], '[')
	if open < 0 {
		return nil
	}
	open += key
	close := bytes.LastIndexByte(body, ']')
	if close <= open {
		return nil
	}
	return bytes.TrimSpace(body[open+1 : close])
}

// simpleWorker streams the payload of one sub-request through a strip
// transform. It backs the station text format where sub-responses
// concatenate without further merging.
type simpleWorker struct {
	client    *endpointClient
	transform func([]byte) []byte
}

func (w *simpleWorker) run(ctx context.Context, endpointURL string, se streams.StreamEpoch, rw *responseWriter) error {
	if w.client.overBudget(ctx, endpointURL) {
		log.WithField("url", endpointURL).Debug("Skipping sub-request, retry budget exceeded")
		return nil
	}
	resp, err := w.client.do(ctx, endpointURL, []streams.StreamEpoch{se})
	if err != nil {
		return err
	}
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
		return errors.Wrapf(err, "reading response of %s failed", endpointURL)
	}
	if payload := w.transform(body); len(payload) > 0 {
		return rw.WriteChunk(payload)
	}
	return nil
}
