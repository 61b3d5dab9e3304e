package proxy

import (
	"net/url"

	"github.com/pkg/errors"

	"github.com/eidaws/eidaws/fdsnws"
)

// Option for the endpoint proxy.
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

// WithUpstream sets the guarded FDSN endpoint requests are forwarded to.
func WithUpstream(rawURL string) Option {
	return func(s *Service) error {
		u, err := url.Parse(rawURL)
		if err != nil {
			return errors.Wrapf(err, "invalid upstream URL %q", rawURL)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.Errorf("invalid upstream URL %q", rawURL)
		}
		s.cfg.upstream = u
		return nil
	}
}

// WithRequestBudget sets the per client leaky bucket: clients may burst up to
// capacity requests and sustain rate requests per second.
func WithRequestBudget(rate float64, capacity int64) Option {
	return func(s *Service) error {
		if rate <= 0 || capacity <= 0 {
			return errors.Errorf("invalid request budget: rate %v, capacity %d", rate, capacity)
		}
		s.cfg.rate = rate
		s.cfg.burst = capacity
		return nil
	}
}

// WithMaxUpstreamConns bounds the connections opened towards the upstream
// endpoint. Zero leaves the transport unbounded.
func WithMaxUpstreamConns(n int) Option {
	return func(s *Service) error {
		s.cfg.maxConns = n
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

// WithErrorWriter configures the rendering of FDSNWS error bodies.
func WithErrorWriter(ew fdsnws.ErrorWriter) Option {
	return func(s *Service) error {
		s.cfg.errorWriter = ew
		return nil
	}
}
