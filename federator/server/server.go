// Package server defines the federator HTTP service: the federated FDSNWS
// and EIDAWS endpoints, request validation and dispatch to the per service
// query processors.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/eidaws/eidaws/fdsnws"
	"github.com/eidaws/eidaws/runtime"
	"github.com/eidaws/eidaws/runtime/version"
)

var log = logrus.WithField("prefix", "server")

var _ runtime.Service = (*Service)(nil)

// QueryProcessor federates one validated query and writes the merged
// response.
type QueryProcessor interface {
	ServeQuery(w http.ResponseWriter, r *http.Request, q *fdsnws.Query)
}

// Config parameters for setting up the federator HTTP service.
type config struct {
	host           string
	port           int
	unixPath       string
	maxBodySize    int64
	numForwarded   int
	staticDir      string
	allowedOrigins []string
	errorWriter    fdsnws.ErrorWriter
	processors     map[fdsnws.Service]QueryProcessor
}

// Service serves the federated endpoints over TCP or a unix domain socket.
type Service struct {
	cfg          *config
	server       *http.Server
	listener     net.Listener
	startFailure error
}

// New returns a federator HTTP service configured through opts. At least one
// query processor has to be registered.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		cfg: &config{
			processors: map[fdsnws.Service]QueryProcessor{},
		},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if len(s.cfg.processors) == 0 {
		return nil, errors.New("no query processors registered")
	}
	return s, nil
}

// Start the HTTP server and begin accepting requests.
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
		log.WithField("address", lis.Addr().String()).Info("Starting federator HTTP server")
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

// handler builds the complete middleware chain of the service.
func (s *Service) handler() http.Handler {
	return s.corsMiddleware(s.logRequests(s.routes()))
}

func (s *Service) routes() *mux.Router {
	router := mux.NewRouter()
	for svc, proc := range s.cfg.processors {
		router.HandleFunc(svc.Path(fdsnws.MethodQuery), s.queryHandler(svc, proc, fdsnws.MethodQuery)).
			Methods(http.MethodGet, http.MethodPost)
		if svc == fdsnws.ServiceAvailability {
			router.HandleFunc(svc.Path(fdsnws.MethodExtent), s.queryHandler(svc, proc, fdsnws.MethodExtent)).
				Methods(http.MethodGet, http.MethodPost)
		}
		router.HandleFunc(svc.Path(fdsnws.MethodVersion), versionHandler).Methods(http.MethodGet)
		if s.cfg.staticDir != "" {
			router.HandleFunc(svc.Path(fdsnws.MethodWADL), s.wadlHandler(svc)).Methods(http.MethodGet)
		}
	}
	return router
}

// queryHandler validates a GET or POST request against the service schema
// and hands the query to the processor. The method token ends up on the
// query when it differs from query, e.g. for availability extent.
func (s *Service) queryHandler(svc fdsnws.Service, proc QueryProcessor, method string) http.HandlerFunc {
	schema := fdsnws.SchemaFor(svc)
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := s.parseRequest(w, r, schema)
		if err != nil {
			log.WithFields(logrus.Fields{
				"client": clientAddr(r, s.cfg.numForwarded),
				"url":    r.URL.RequestURI(),
			}).WithError(err).Debug("Rejecting request")
			s.cfg.errorWriter.WriteError(w, r, err)
			return
		}
		if method != fdsnws.MethodQuery {
			q.Method = method
		}
		proc.ServeQuery(w, r, q)
	}
}

func (s *Service) parseRequest(w http.ResponseWriter, r *http.Request, schema fdsnws.Schema) (*fdsnws.Query, error) {
	if r.Method != http.MethodPost {
		return schema.ParseQuery(r.URL.Query())
	}

	body := io.Reader(r.Body)
	if s.cfg.maxBodySize > 0 {
		body = http.MaxBytesReader(w, r.Body, s.cfg.maxBodySize)
	}
	q, err := schema.ParsePost(body, time.Now().UTC())
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fdsnws.NewError(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		// Plain read errors from the body are the client's fault too.
		if fdsnws.StatusCode(err) == http.StatusInternalServerError {
			return nil, fdsnws.NewError(http.StatusBadRequest, err.Error())
		}
		return nil, err
	}
	return q, nil
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", fdsnws.ContentTypeText)
	_, _ = io.WriteString(w, version.SemanticVersion())
}

func (s *Service) wadlHandler(svc fdsnws.Service) http.HandlerFunc {
	wadl := filepath.Join(s.cfg.staticDir, string(svc), "application.wadl")
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", fdsnws.ContentTypeXML)
		http.ServeFile(w, r, wadl)
	}
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

func (s *Service) corsMiddleware(h http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		MaxAge:         600,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(h)
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
