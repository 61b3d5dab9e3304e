// Package routing implements the federator's client to the routing resolver:
// it forwards a validated query over HTTP, parses the textual route blocks of
// the response, drops endpoints whose retry budget is exhausted and enforces
// the configured request size limits.
package routing

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

var log = logrus.WithField("prefix", "routing")

// budgetFilter decides whether an endpoint's retry budget is exhausted.
type budgetFilter interface {
	Exceeded(ctx context.Context, endpointURL string) (bool, error)
}

// Config tunes the routing client.
type Config struct {
	// ConnLimit caps concurrent connections to the routing service.
	ConnLimit int
	// Timeout bounds one routing call.
	Timeout time.Duration
	// MaxStreamEpochDuration caps the window of a single routed stream
	// epoch. Zero disables the limit.
	MaxStreamEpochDuration time.Duration
	// MaxTotalDuration caps the summed windows of all routed stream epochs.
	// Zero disables the limit.
	MaxTotalDuration time.Duration
}

// Resolution is the outcome of one routing call. URLs lists every endpoint
// the resolver returned, including those dropped by the retry budget;
// Routes carries the surviving dispatchable routes.
type Resolution struct {
	URLs   []string
	Routes []streams.Route
}

// Client resolves federated queries into routes by calling the routing
// service.
type Client struct {
	hc      *http.Client
	baseURL *url.URL
	budget  budgetFilter
	cfg     Config
	now     func() time.Time
}

// ClientOpt is a functional option for the routing client.
type ClientOpt func(*Client)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOpt {
	return func(c *Client) {
		c.hc = hc
	}
}

// NewClient returns a client against the routing service at routingURL,
// typically …/eidaws/routing/1/query.
func NewClient(routingURL string, budget budgetFilter, cfg Config, opts ...ClientOpt) (*Client, error) {
	u, err := url.Parse(routingURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid routing URL %q", routingURL)
	}
	if u.Host == "" {
		return nil, errors.Errorf("invalid routing URL %q", routingURL)
	}
	c := &Client{
		hc: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxConnsPerHost:     cfg.ConnLimit,
				MaxIdleConnsPerHost: cfg.ConnLimit,
			},
		},
		baseURL: u,
		budget:  budget,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Resolve queries the routing service for the streams of q and returns the
// grouped routes. Routing failures surface as plain errors so callers report
// them as internal; limit violations surface as FDSNWS 413 errors.
func (c *Client) Resolve(ctx context.Context, q *fdsnws.Query) (*Resolution, error) {
	req, err := c.buildRequest(ctx, q)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "routing request failed")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return &Resolution{}, nil
	default:
		return nil, errors.Errorf("routing service responded with %d", resp.StatusCode)
	}

	// Missing end times in the routed streams are made concrete only for
	// POST submissions. GET requests keep them open so identical requests
	// stay byte-identical and cacheable along the way.
	var defaultEnd time.Time
	if q.Post() {
		defaultEnd = c.now().UTC()
	}
	return c.parseRoutes(ctx, resp.Body, defaultEnd)
}

// buildRequest mirrors the submission form of the client request: GET
// queries are forwarded as a single GET, POST queries as a multiline POST.
func (c *Client) buildRequest(ctx context.Context, q *fdsnws.Query) (*http.Request, error) {
	params := routingParams(q)
	if q.Post() {
		return fdsnws.BuildPostRequest(ctx, c.baseURL.String(), params, q.StreamEpochs(), time.Time{})
	}

	u := *c.baseURL
	vals := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			vals.Add(k, v)
		}
	}
	setCodes(vals, fdsnws.ParamNetwork, q.Networks)
	setCodes(vals, fdsnws.ParamStation, q.Stations)
	setCodes(vals, fdsnws.ParamLocation, q.Locations)
	setCodes(vals, fdsnws.ParamChannel, q.Channels)
	if !q.Start.IsZero() {
		vals.Set(fdsnws.ParamStartTime, streams.FormatTime(q.Start))
	}
	if !q.End.IsZero() {
		vals.Set(fdsnws.ParamEndTime, streams.FormatTime(q.End))
	}
	u.RawQuery = vals.Encode()
	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

// routingParams derives the parameters of the routing call from the
// federated query: the target service, the post response format, and the
// pass-through constraints the resolver understands.
func routingParams(q *fdsnws.Query) url.Values {
	params := url.Values{}
	params.Set(fdsnws.ParamService, string(q.Service))
	params.Set(fdsnws.ParamFormat, "post")
	method := q.Method
	if method == "" {
		method = fdsnws.MethodQuery
	}
	params.Set("method", method)
	if level := q.Params.Get(fdsnws.ParamLevel); level != "" {
		params.Set(fdsnws.ParamLevel, level)
	}
	for _, k := range []string{"minlatitude", "maxlatitude", "minlongitude", "maxlongitude"} {
		if v := q.Params.Get(k); v != "" {
			params.Set(k, v)
		}
	}
	return params
}

func setCodes(vals url.Values, key string, codes []string) {
	if len(codes) == 0 {
		return
	}
	joined := ""
	for i, code := range codes {
		if code == "" {
			code = streams.EmptyLocation
		}
		if i > 0 {
			joined += ","
		}
		joined += code
	}
	vals.Set(key, joined)
}
