package fdsnws

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/eidaws/eidaws/streams"
	"github.com/pkg/errors"
)

// ReqOption adjusts an outgoing service request before it is sent.
type ReqOption func(*http.Request)

// WithUserAgent sets the request user agent.
func WithUserAgent(ua string) ReqOption {
	return func(r *http.Request) {
		r.Header.Set("User-Agent", ua)
	}
}

// WithHeader sets an arbitrary request header.
func WithHeader(key, value string) ReqOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// BuildGetRequest returns a GET request against rawURL carrying the service
// parameters plus the codes and window of a single stream epoch.
func BuildGetRequest(ctx context.Context, rawURL string, params url.Values, se streams.StreamEpoch, opts ...ReqOption) (*http.Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid request URL %q", rawURL)
	}
	q := url.Values{}
	for k, vals := range params {
		for _, v := range vals {
			q.Add(k, v)
		}
	}
	loc := se.Stream.Location
	if loc == "" {
		loc = streams.EmptyLocation
	}
	q.Set(ParamNetwork, se.Stream.Network)
	q.Set(ParamStation, se.Stream.Station)
	q.Set(ParamLocation, loc)
	q.Set(ParamChannel, se.Stream.Channel)
	q.Set(ParamStartTime, streams.FormatTime(se.StartTime))
	if !se.EndTime.IsZero() {
		q.Set(ParamEndTime, streams.FormatTime(se.EndTime))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for _, o := range opts {
		o(req)
	}
	return req, nil
}

// EncodePostPayload renders an FDSNWS POST body: sorted key=value parameter
// lines followed by one line per stream epoch. Open epoch ends are filled
// with defaultEnd when it is set, since POST lines require explicit windows.
func EncodePostPayload(params url.Values, epochs []streams.StreamEpoch, defaultEnd time.Time) []byte {
	var b bytes.Buffer
	for _, kv := range SortedParams(params) {
		b.WriteString(kv)
		b.WriteByte('\n')
	}
	for _, se := range epochs {
		if se.EndTime.IsZero() && !defaultEnd.IsZero() {
			se.EndTime = defaultEnd
		}
		b.WriteString(se.FDSNLine())
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// BuildPostRequest returns a POST request against rawURL with an FDSNWS
// multiline payload covering all given stream epochs.
func BuildPostRequest(ctx context.Context, rawURL string, params url.Values, epochs []streams.StreamEpoch, defaultEnd time.Time, opts ...ReqOption) (*http.Request, error) {
	payload := EncodePostPayload(params, epochs, defaultEnd)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid request URL %q", rawURL)
	}
	req.Header.Set("Content-Type", ContentTypeText)
	for _, o := range opts {
		o(req)
	}
	return req, nil
}
