package server

import (
	"github.com/eidaws/eidaws/fdsnws"
)

// Option for the stationlite HTTP service.
type Option func(s *Service) error

// WithHost sets the host of the TCP listener.
func WithHost(host string) Option {
	return func(s *Service) error {
		s.cfg.host = host
		return nil
	}
}

// WithPort sets the port of the TCP listener.
func WithPort(port int) Option {
	return func(s *Service) error {
		s.cfg.port = port
		return nil
	}
}

// WithUnixPath serves over a unix domain socket instead of TCP.
func WithUnixPath(path string) Option {
	return func(s *Service) error {
		s.cfg.unixPath = path
		return nil
	}
}

// WithMaxBodySize bounds the accepted size of POST bodies in bytes. Zero
// disables the limit.
func WithMaxBodySize(n int64) Option {
	return func(s *Service) error {
		s.cfg.maxBodySize = n
		return nil
	}
}

// WithNumForwarded trusts the given number of reverse proxies when deriving
// client addresses from X-Forwarded-For.
func WithNumForwarded(n int) Option {
	return func(s *Service) error {
		s.cfg.numForwarded = n
		return nil
	}
}

// WithStaticDir serves per service application.wadl documents from dir.
func WithStaticDir(dir string) Option {
	return func(s *Service) error {
		s.cfg.staticDir = dir
		return nil
	}
}

// WithAllowedOrigins sets the origins accepted by the CORS middleware.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Service) error {
		s.cfg.allowedOrigins = origins
		return nil
	}
}

// WithErrorWriter configures the rendering of FDSNWS error bodies.
func WithErrorWriter(ew fdsnws.ErrorWriter) Option {
	return func(s *Service) error {
		s.cfg.errorWriter = ew
		return nil
	}
}

// WithResolver registers the store answering routing and stationlite queries.
func WithResolver(resolver Resolver) Option {
	return func(s *Service) error {
		s.cfg.resolver = resolver
		return nil
	}
}
