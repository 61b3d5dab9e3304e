// Package proxy implements the endpoint proxy: a thin reverse proxy guarding
// a single fragile FDSN endpoint. Requests pass through unchanged, but every
// client is held to a leaky bucket request budget and both rejections and
// upstream failures render FDSNWS conformant error bodies.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kevinms/leakybucket-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/eidaws/eidaws/fdsnws"
	"github.com/eidaws/eidaws/io/logs"
	"github.com/eidaws/eidaws/runtime"
)

var log = logrus.WithField("prefix", "proxy")

var _ runtime.Service = (*Service)(nil)

// Defaults of the per client request budget and the upstream connection
// bound.
const (
	DefaultRequestRate      = 5
	DefaultRequestBurst     = 10
	DefaultMaxUpstreamConns = 20
)

// Config parameters for setting up the endpoint proxy.
type config struct {
	host         string
	port         int
	unixPath     string
	upstream     *url.URL
	rate         float64
	burst        int64
	maxConns     int
	numForwarded int
	errorWriter  fdsnws.ErrorWriter
}

// Service forwards requests to the guarded endpoint over TCP or a unix
// domain socket.
type Service struct {
	cfg          *config
	server       *http.Server
	listener     net.Listener
	limiter      *leakybucket.Collector
	proxy        *httputil.ReverseProxy
	startFailure error
}

// New returns an endpoint proxy configured through opts. An upstream endpoint
// has to be registered.
func New(opts ...Option) (*Service, error) {
	s := &Service{cfg: &config{
		rate:     DefaultRequestRate,
		burst:    DefaultRequestBurst,
		maxConns: DefaultMaxUpstreamConns,
	}}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.cfg.upstream == nil {
		return nil, errors.New("no upstream endpoint configured")
	}
	// Buckets are keyed by client address, an unbounded key space, so empty
	// ones have to be collected.
	s.limiter = leakybucket.NewCollector(s.cfg.rate, s.cfg.burst, true /* deleteEmptyBuckets */)
	s.proxy = s.reverseProxy()
	return s, nil
}

// Start the HTTP server and begin forwarding requests.
func (s *Service) Start() {
	s.server = &http.Server{Handler: s.handler()}

	lis, err := s.listen()
	if err != nil {
		log.WithError(err).Error("Failed to listen")
		s.startFailure = err
		return
	}
	s.listener = lis

	go func() {
		log.WithFields(logrus.Fields{
			"address":  lis.Addr().String(),
			"upstream": logs.MaskCredentialsLogging(s.cfg.upstream.String()),
		}).Info("Starting endpoint proxy")
		if err := s.server.Serve(lis); err != http.ErrServerClosed {
			log.WithError(err).Error("Failed to serve HTTP")
			s.startFailure = err
		}
	}()
}

// Stop the service with a graceful shutdown.
func (s *Service) Stop() error {
	if s.server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				log.Warn("Existing connections terminated")
			} else {
				log.WithError(err).Error("Failed to gracefully shut down server")
			}
		}
	}
	s.limiter.Free()
	return nil
}

// Status of the HTTP server. Returns an error when the server failed to
// start or stopped serving.
func (s *Service) Status() error {
	return s.startFailure
}

func (s *Service) listen() (net.Listener, error) {
	if s.cfg.unixPath != "" {
		if err := os.Remove(s.cfg.unixPath); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "could not remove stale socket")
		}
		return net.Listen("unix", s.cfg.unixPath)
	}
	return net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.host, s.cfg.port))
}

func (s *Service) handler() http.Handler {
	return s.logRequests(s.limit(s.proxy))
}

// reverseProxy forwards requests to the upstream endpoint with the authority
// rewritten, bounding the connections opened towards it. Upstream failures
// surface as FDSNWS 503 bodies so clients of the guarded endpoint always see
// conformant errors.
func (s *Service) reverseProxy() *httputil.ReverseProxy {
	rp := httputil.NewSingleHostReverseProxy(s.cfg.upstream)
	director := rp.Director
	rp.Director = func(req *http.Request) {
		director(req)
		req.Host = s.cfg.upstream.Host
	}
	rp.Transport = &http.Transport{
		MaxConnsPerHost:     s.cfg.maxConns,
		MaxIdleConnsPerHost: s.cfg.maxConns,
	}
	// Stream large payloads through instead of buffering them.
	rp.FlushInterval = -1
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.WithError(err).WithFields(logrus.Fields{
			"url":      r.URL.RequestURI(),
			"upstream": s.cfg.upstream.Host,
		}).Warn("Upstream request failed")
		s.cfg.errorWriter.WriteError(w, r, fdsnws.NewError(http.StatusServiceUnavailable,
			"The endpoint is temporarily unavailable."))
	}
	return rp
}

// limit holds every client to the request budget. Rejections render the
// FDSNWS 503 body with a Retry-After estimate instead of dropping the
// connection, matching how the guarded services report overload themselves.
func (s *Service) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientAddr(r, s.cfg.numForwarded)
		if s.limiter.Add(client, 1) == 0 {
			retry := int64(s.limiter.TillEmpty(client)/time.Second) + 1
			w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
			log.WithFields(logrus.Fields{
				"client": client,
				"url":    r.URL.RequestURI(),
			}).Debug("Rejecting request, budget exhausted")
			s.cfg.errorWriter.WriteError(w, r, fdsnws.NewError(http.StatusServiceUnavailable,
				"Request rate exceeded. Retry later."))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(logrus.Fields{
			"client":   clientAddr(r, s.cfg.numForwarded),
			"method":   r.Method,
			"url":      r.URL.RequestURI(),
			"duration": time.Since(start),
		}).Debug("Served request")
	})
}

// clientAddr reports the address a request originated from. When the service
// runs behind numForwarded reverse proxies the matching entry of the
// X-Forwarded-For header is trusted, otherwise the peer address is used.
func clientAddr(r *http.Request, numForwarded int) string {
	if numForwarded > 0 {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			hops := strings.Split(fwd, ",")
			idx := len(hops) - numForwarded
			if idx < 0 {
				idx = 0
			}
			return strings.TrimSpace(hops[idx])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
