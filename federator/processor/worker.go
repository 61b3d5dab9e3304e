package processor

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/eidaws/eidaws/fdsnws"
	"github.com/eidaws/eidaws/streams"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "federator")

// statsTimeout bounds detached response code accounting calls.
const statsTimeout = 5 * time.Second

// statsKeeper is the slice of the retry budget the processor feeds and
// consults.
type statsKeeper interface {
	Add(ctx context.Context, endpointURL string, code int) error
	Exceeded(ctx context.Context, endpointURL string) (bool, error)
	GC(ctx context.Context, endpointURL string) error
}

// endpointClient issues sub-requests against upstream endpoints and records
// every response code in the retry budget statistics. Transport level
// failures count as 503.
type endpointClient struct {
	hc        *http.Client
	stats     statsKeeper
	post      bool
	params    url.Values
	userAgent string
	now       func() time.Time
}

// do fetches one sub-request. GET dispatch carries exactly one stream epoch;
// POST dispatch renders all epochs into the payload with open ends made
// concrete.
func (e *endpointClient) do(ctx context.Context, endpointURL string, epochs []streams.StreamEpoch) (*http.Response, error) {
	var (
		req *http.Request
		err error
	)
	if e.post {
		req, err = fdsnws.BuildPostRequest(ctx, endpointURL, e.params, epochs, e.now().UTC(), fdsnws.WithUserAgent(e.userAgent))
	} else {
		if len(epochs) != 1 {
			return nil, errors.Errorf("GET dispatch requires exactly one stream epoch, got %d", len(epochs))
		}
		req, err = fdsnws.BuildGetRequest(ctx, endpointURL, e.params, epochs[0], fdsnws.WithUserAgent(e.userAgent))
	}
	if err != nil {
		return nil, err
	}

	resp, err := e.hc.Do(req)
	if err != nil {
		e.record(endpointURL, http.StatusServiceUnavailable)
		endpointResponses.WithLabelValues("error").Inc()
		return nil, errors.Wrapf(err, "request to %s failed", endpointURL)
	}
	e.record(endpointURL, resp.StatusCode)
	endpointResponses.WithLabelValues(statusClass(resp.StatusCode)).Inc()
	return resp, nil
}

// overBudget checks the endpoint's retry budget, failing open on statistics
// errors.
func (e *endpointClient) overBudget(ctx context.Context, endpointURL string) bool {
	exceeded, err := e.stats.Exceeded(ctx, endpointURL)
	if err != nil {
		log.WithError(err).WithField("url", endpointURL).Warn("Could not evaluate retry budget")
		return false
	}
	return exceeded
}

// record accounts a response code on a context detached from the request, so
// cancelled downloads still leave their trace in the statistics.
func (e *endpointClient) record(endpointURL string, code int) {
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()
	if err := e.stats.Add(ctx, endpointURL, code); err != nil {
		log.WithError(err).WithField("url", endpointURL).Debug("Failed to record response code")
	}
}

func statusClass(code int) string {
	switch {
	case code == http.StatusOK:
		return "200"
	case code == http.StatusNoContent:
		return "204"
	case code == http.StatusRequestEntityTooLarge:
		return "413"
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "other"
	}
}

// drainBody discards the remaining body and closes it so the underlying
// connection can be reused.
func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// logUpstream logs a non-200, non-204 upstream response at warn level.
func logUpstream(endpointURL string, code int) {
	log.WithFields(logrus.Fields{
		"url":  endpointURL,
		"code": code,
	}).Warn("Unexpected endpoint response")
}
