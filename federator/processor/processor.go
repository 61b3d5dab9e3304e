// Package processor implements the federating request processors: one per
// federated service, each resolving a validated query into endpoint routes,
// fanning sub-requests out over a bounded worker pool and merging the
// sub-responses into a single standard conformant payload.
package processor

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/eidaws/eidaws/async"
	"github.com/eidaws/eidaws/cache"
	"github.com/eidaws/eidaws/fdsnws"
	"github.com/eidaws/eidaws/federator/routing"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Processor defaults.
const (
	DefaultPoolSize           = 16
	DefaultStreamingTimeout   = 10 * time.Minute
	DefaultEndpointTimeout    = 2 * time.Minute
	DefaultConnLimit          = 20
	DefaultSplittingFactor    = 2
	DefaultMaxSplitOperations = 10
)

// errNoData signals an empty federated result while planning.
var errNoData = errors.New("no data for request")

// Config tunes a federating processor.
type Config struct {
	// PoolSize caps concurrently running sub-requests per federated request.
	PoolSize int
	// StreamingTimeout bounds the federation of one request. Zero waits
	// forever.
	StreamingTimeout time.Duration
	// EndpointTimeout bounds a single endpoint sub-request.
	EndpointTimeout time.Duration
	// TimeoutConnect bounds establishing a connection to an endpoint. Zero
	// leaves connecting under the sub-request timeout only.
	TimeoutConnect time.Duration
	// ConnLimit caps connections per endpoint host.
	ConnLimit int
	// ConnLimitTotal caps idle connections kept across all endpoints. Zero
	// keeps the transport default.
	ConnLimitTotal int
	// DispatchPost issues sub-requests as POST where the format allows
	// batching.
	DispatchPost bool
	// UserAgent identifies the gateway towards the endpoints.
	UserAgent string
	// SplittingFactor is the number of pieces an oversized window is sliced
	// into when an endpoint responds with 413.
	SplittingFactor int
	// MaxSplitOperations caps split rounds per sub-request.
	MaxSplitOperations int
	// FallbackRecordSize substitutes the MiniSEED record length for records
	// without blockette 1000. Zero drops such responses.
	FallbackRecordSize int
	// TempDir holds spilled worker buffers. Empty uses the system default.
	TempDir string
	// BufferRollover is the in-memory buffer size beyond which worker
	// payloads spill to disk.
	BufferRollover int
}

func (cfg Config) withDefaults() Config {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.StreamingTimeout < 0 {
		cfg.StreamingTimeout = 0
	}
	if cfg.EndpointTimeout <= 0 {
		cfg.EndpointTimeout = DefaultEndpointTimeout
	}
	if cfg.ConnLimit <= 0 {
		cfg.ConnLimit = DefaultConnLimit
	}
	if cfg.SplittingFactor < 2 {
		cfg.SplittingFactor = DefaultSplittingFactor
	}
	if cfg.MaxSplitOperations <= 0 {
		cfg.MaxSplitOperations = DefaultMaxSplitOperations
	}
	return cfg
}

// resolver resolves a federated query into endpoint routes.
type resolver interface {
	Resolve(ctx context.Context, q *fdsnws.Query) (*routing.Resolution, error)
}

// Deps aggregates the collaborators of a processor.
type Deps struct {
	Resolver    resolver
	Stats       statsKeeper
	Cache       *cache.Cache
	ErrorWriter fdsnws.ErrorWriter
	Config      Config
}

// job is one schedulable unit of a federated request. Unsorted plans stream
// through run; sorted plans collect and let the drain restore order.
type job struct {
	priority int
	run      func(ctx context.Context, rw *responseWriter) error
	collect  func(ctx context.Context) ([]byte, error)
}

// plan describes how one federated request is assembled: the response
// envelope, the dispatch granularity and whether output order must follow
// the request order.
type plan struct {
	typeTag     string
	contentType string
	header      []byte
	footer      []byte
	separator   []byte
	sorted      bool
	jobs        func(c *endpointClient, res *routing.Resolution) ([]job, error)
}

type planFunc func(p *Processor, q *fdsnws.Query) (*plan, error)

// Processor federates requests of one service.
type Processor struct {
	svc      fdsnws.Service
	resolver resolver
	stats    statsKeeper
	cache    *cache.Cache
	hc       *http.Client
	ew       fdsnws.ErrorWriter
	cfg      Config
	plan     planFunc
	now      func() time.Time
}

// New returns the processor federating svc.
func New(svc fdsnws.Service, deps Deps) (*Processor, error) {
	pf, err := planForService(svc)
	if err != nil {
		return nil, err
	}
	if deps.Resolver == nil {
		return nil, errors.New("processor requires a resolver")
	}
	if deps.Stats == nil {
		return nil, errors.New("processor requires response code statistics")
	}
	cfg := deps.Config.withDefaults()
	return &Processor{
		svc:      svc,
		resolver: deps.Resolver,
		stats:    deps.Stats,
		cache:    deps.Cache,
		hc: &http.Client{
			Timeout: cfg.EndpointTimeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: cfg.TimeoutConnect}).DialContext,
				MaxConnsPerHost:     cfg.ConnLimit,
				MaxIdleConnsPerHost: cfg.ConnLimit,
				MaxIdleConns:        cfg.ConnLimitTotal,
			},
		},
		ew:   deps.ErrorWriter,
		cfg:  cfg,
		plan: pf,
		now:  time.Now,
	}, nil
}

func planForService(svc fdsnws.Service) (planFunc, error) {
	switch svc {
	case fdsnws.ServiceDataselect:
		return planDataselect, nil
	case fdsnws.ServiceStation:
		return planStation, nil
	case fdsnws.ServiceWFCatalog:
		return planWFCatalog, nil
	case fdsnws.ServiceAvailability:
		return planAvailability, nil
	}
	return nil, errors.Errorf("no processor for service %q", svc)
}

// ServeQuery federates one validated query and streams the merged payload.
func (p *Processor) ServeQuery(w http.ResponseWriter, r *http.Request, q *fdsnws.Query) {
	requestsTotal.WithLabelValues(string(p.svc)).Inc()
	ctx := r.Context()

	pl, err := p.plan(p, q)
	if err != nil {
		p.ew.WriteError(w, r, err)
		return
	}

	key := cache.Key(pl.typeTag, q.Params, q.StreamEpochs())
	if p.serveFromCache(ctx, w, r, key, pl.contentType) {
		return
	}

	res, err := p.resolver.Resolve(ctx, q)
	if err != nil {
		log.WithError(err).Error("Resolving routes failed")
		p.ew.WriteError(w, r, err)
		return
	}
	defer p.gcStats(res.URLs)

	if len(res.Routes) == 0 {
		p.ew.WriteNoData(w, r, q.NoData)
		return
	}

	client := &endpointClient{
		hc:        p.hc,
		stats:     p.stats,
		post:      p.cfg.DispatchPost,
		params:    q.Params,
		userAgent: p.cfg.UserAgent,
		now:       p.now,
	}
	jobs, err := pl.jobs(client, res)
	if err != nil {
		if errors.Is(err, errNoData) {
			p.ew.WriteNoData(w, r, q.NoData)
			return
		}
		p.ew.WriteError(w, r, err)
		return
	}
	if len(jobs) == 0 {
		p.ew.WriteNoData(w, r, q.NoData)
		return
	}

	rw := newResponseWriter(w, pl.contentType, pl.header, pl.footer, pl.separator, p.cacheEnabled())
	if err := p.federate(ctx, rw, pl, jobs); err != nil {
		if !rw.Prepared() {
			p.ew.WriteError(w, r, err)
			return
		}
		// The response is underway; it ends as-is without the footer.
		rw.DiscardMirror()
		log.WithError(err).Warn("Ending streamed response early")
		return
	}
	if !rw.Prepared() {
		p.ew.WriteNoData(w, r, q.NoData)
		return
	}
	if err := rw.Finish(); err != nil {
		log.WithError(err).Debug("Completing response failed")
		return
	}
	responseBytes.Add(float64(rw.Written()))
	log.WithFields(logrus.Fields{
		"service": p.svc,
		"size":    humanize.Bytes(uint64(rw.Written())),
	}).Debug("Federated response completed")
	if body := rw.Mirrored(); body != nil {
		p.cacheStore(key, body)
	}
}

// federate fans the jobs out over a bounded pool and waits for completion
// within the streaming timeout.
func (p *Processor) federate(ctx context.Context, rw *responseWriter, pl *plan, jobs []job) error {
	pool := async.NewPool(ctx, p.cfg.PoolSize)
	defer pool.Cancel()

	var queue *sortedQueue
	if pl.sorted {
		queue = newSortedQueue(rw)
	}

	futures := make([]*async.Future, 0, len(jobs))
	for _, jb := range jobs {
		jb := jb
		if pl.sorted {
			futures = append(futures, pool.Submit(func(ctx context.Context) error {
				data, err := jb.collect(ctx)
				queue.push(ctx, jb.priority, data)
				return err
			}))
		} else {
			futures = append(futures, pool.Submit(func(ctx context.Context) error {
				return jb.run(ctx, rw)
			}))
		}
	}

	err := pool.Join(p.cfg.StreamingTimeout)
	if queue != nil {
		queue.close()
	}
	if err != nil {
		return fdsnws.NewError(http.StatusRequestEntityTooLarge,
			"federation did not complete within the streaming timeout")
	}
	for _, f := range futures {
		if ferr := f.Err(); ferr != nil {
			log.WithError(ferr).Warn("Sub-request worker failed")
		}
	}
	return nil
}

func (p *Processor) cacheEnabled() bool {
	return p.cache != nil && p.cache.Enabled()
}

// serveFromCache answers the request from the response cache when possible.
// A gzip capable client is handed the stored compressed representation
// as-is.
func (p *Processor) serveFromCache(ctx context.Context, w http.ResponseWriter, r *http.Request, key, contentType string) bool {
	if !p.cacheEnabled() {
		return false
	}
	var (
		body []byte
		ok   bool
		err  error
		gz   bool
	)
	if p.cache.Compressed() && acceptsGzip(r) {
		body, ok, err = p.cache.GetRaw(ctx, key)
		gz = true
	} else {
		body, ok, err = p.cache.Get(ctx, key)
	}
	if err != nil {
		log.WithError(err).Warn("Cache lookup failed")
		return false
	}
	if !ok {
		cacheMisses.Inc()
		return false
	}
	cacheHits.Inc()
	w.Header().Set("Content-Type", contentType)
	if gz {
		w.Header().Set("Content-Encoding", "gzip")
	}
	_, _ = w.Write(body)
	return true
}

func (p *Processor) cacheStore(key string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()
	if err := p.cache.Set(ctx, key, body); err != nil {
		log.WithError(err).Warn("Caching response failed")
	}
}

// gcStats expires aged response code statistics of every endpoint the
// request was routed to, including endpoints skipped over budget.
func (p *Processor) gcStats(urls []string) {
	if len(urls) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()
	for _, u := range urls {
		if err := p.stats.GC(ctx, u); err != nil {
			log.WithError(err).WithField("url", u).Debug("Expiring response code statistics failed")
		}
	}
}

func acceptsGzip(r *http.Request) bool {
	for _, v := range r.Header.Values("Accept-Encoding") {
		for _, part := range strings.Split(v, ",") {
			if idx := strings.IndexByte(part, ';'); idx >= 0 {
				part = part[:idx]
			}
			if strings.TrimSpace(part) == "gzip" {
				return true
			}
		}
	}
	return false
}

// granularEntries expands routes into one entry per stream epoch.
func granularEntries(res *routing.Resolution) []routeEntry {
	var out []routeEntry
	for _, rt := range res.Routes {
		for _, se := range rt.StreamEpochs {
			out = append(out, routeEntry{url: rt.URL, se: se})
		}
	}
	return out
}
