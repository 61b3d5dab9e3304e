// Package harvest implements the periodic populator of the routing store: it
// reads routing configuration documents, fetches the FDSN station inventory
// declared for every route, and rewrites the store the stationlite service
// resolves against. A harvest run builds a staging copy of the store and
// atomically renames it over the served one on success.
package harvest

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/eidaws/eidaws/fdsnws"
	"github.com/eidaws/eidaws/streams"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "harvest")

// RoutingConfig is one parsed routing configuration document: the routes to
// harvest plus the virtual network definitions to resolve afterwards.
type RoutingConfig struct {
	Routes          []Route
	VirtualNetworks []VirtualNetwork
}

// Route declares the stream pattern of one route together with the service
// endpoints serving it. The pattern selects the inventory to fetch; the
// emerged entities take their codes from the inventory response.
type Route struct {
	Pattern  streams.Stream
	Services []ServiceEndpoint
}

// ServiceEndpoint is one service declaration of a route. Only declarations
// with priority 1 are harvested into the store.
type ServiceEndpoint struct {
	Service  fdsnws.Service
	URL      string
	Priority int
	Epoch    streams.Epoch
}

// VirtualNetwork maps a virtual network code onto the stream epoch patterns
// of its member channels.
type VirtualNetwork struct {
	Code    string
	Streams []streams.StreamEpoch
}

// Merge appends the routes and virtual networks of another document.
func (c *RoutingConfig) Merge(other *RoutingConfig) {
	c.Routes = append(c.Routes, other.Routes...)
	c.VirtualNetworks = append(c.VirtualNetworks, other.VirtualNetworks...)
}

// The on-disk markup. Element matching goes by local name, so namespaced
// documents decode the same as plain ones.
type routingDocument struct {
	XMLName         xml.Name    `xml:"routing"`
	Routes          []routeNode `xml:"route"`
	VirtualNetworks []vnetNode  `xml:"vnetwork"`
}

type routeNode struct {
	Network  string        `xml:"networkCode,attr"`
	Station  string        `xml:"stationCode,attr"`
	Location string        `xml:"locationCode,attr"`
	Channel  string        `xml:"streamCode,attr"`
	Services []serviceNode `xml:",any"`
}

type serviceNode struct {
	XMLName  xml.Name
	Address  string `xml:"address,attr"`
	Priority string `xml:"priority,attr"`
	Start    string `xml:"start,attr"`
	End      string `xml:"end,attr"`
}

type vnetNode struct {
	Code    string       `xml:"networkCode,attr"`
	Streams []streamNode `xml:"stream"`
}

type streamNode struct {
	Network  string `xml:"networkCode,attr"`
	Station  string `xml:"stationCode,attr"`
	Location string `xml:"locationCode,attr"`
	Channel  string `xml:"streamCode,attr"`
	Start    string `xml:"start,attr"`
	End      string `xml:"end,attr"`
}

// ParseRoutingConfig decodes one routing configuration document. Service
// children with names that are not federated services are skipped; malformed
// time attributes fail the parse.
func ParseRoutingConfig(r io.Reader) (*RoutingConfig, error) {
	doc := &routingDocument{}
	if err := xml.NewDecoder(r).Decode(doc); err != nil {
		return nil, errors.Wrap(err, "decoding routing configuration failed")
	}

	cfg := &RoutingConfig{}
	for _, rn := range doc.Routes {
		route := Route{Pattern: patternFromCodes(rn.Network, rn.Station, rn.Location, rn.Channel)}
		for _, sn := range rn.Services {
			svc, err := fdsnws.ParseService(sn.XMLName.Local)
			if err != nil {
				log.WithField("element", sn.XMLName.Local).Debug("Skipping unknown route child")
				continue
			}
			ep := ServiceEndpoint{Service: svc, URL: sn.Address, Priority: 1}
			if sn.Priority != "" {
				p, err := strconv.Atoi(sn.Priority)
				if err != nil {
					return nil, errors.Wrapf(err, "invalid priority %q for %s route", sn.Priority, svc)
				}
				ep.Priority = p
			}
			if ep.Epoch, err = parseEpochAttrs(sn.Start, sn.End); err != nil {
				return nil, errors.Wrapf(err, "invalid routing interval for %s route", svc)
			}
			route.Services = append(route.Services, ep)
		}
		cfg.Routes = append(cfg.Routes, route)
	}

	for _, vn := range doc.VirtualNetworks {
		if vn.Code == "" {
			return nil, errors.New("virtual network without a networkCode")
		}
		vnet := VirtualNetwork{Code: vn.Code}
		for _, sn := range vn.Streams {
			iv, err := parseEpochAttrs(sn.Start, sn.End)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid member interval in virtual network %q", vn.Code)
			}
			vnet.Streams = append(vnet.Streams, streams.StreamEpoch{
				Stream:    patternFromCodes(sn.Network, sn.Station, sn.Location, sn.Channel),
				StartTime: iv.Start,
				EndTime:   iv.End,
			})
		}
		cfg.VirtualNetworks = append(cfg.VirtualNetworks, vnet)
	}
	return cfg, nil
}

// patternFromCodes builds a stream pattern from route attributes. Absent
// attributes select everything.
func patternFromCodes(network, station, location, channel string) streams.Stream {
	orAny := func(code string) string {
		if code == "" {
			return "*"
		}
		return code
	}
	return streams.Stream{
		Network:  orAny(network),
		Station:  orAny(station),
		Location: orAny(location),
		Channel:  orAny(channel),
	}
}

func parseEpochAttrs(start, end string) (streams.Epoch, error) {
	var iv streams.Epoch
	var err error
	if start != "" {
		if iv.Start, err = streams.ParseTime(start); err != nil {
			return iv, err
		}
	}
	if end != "" {
		if iv.End, err = streams.ParseTime(end); err != nil {
			return iv, err
		}
	}
	return iv, nil
}

// FetchRoutingConfig retrieves and parses the routing configuration document
// at rawURL. Documents are read from file:// paths or over http(s).
func FetchRoutingConfig(ctx context.Context, hc *http.Client, rawURL string) (*RoutingConfig, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid routing configuration URL %q", rawURL)
	}
	switch u.Scheme {
	case "file":
		f, err := os.Open(u.Path) // #nosec G304
		if err != nil {
			return nil, errors.Wrap(err, "opening routing configuration failed")
		}
		defer func() {
			_ = f.Close()
		}()
		return ParseRoutingConfig(f)
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := hc.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "fetching routing configuration failed")
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()
		if resp.StatusCode != http.StatusOK {
			return nil, errors.Errorf("routing configuration at %q responded with %d", rawURL, resp.StatusCode)
		}
		return ParseRoutingConfig(resp.Body)
	}
	return nil, errors.Errorf("unsupported routing configuration scheme %q", u.Scheme)
}

// validateEndpointURL checks the shape of a declared service URL: an
// absolute http(s) URL whose path carries the major version segment and a
// method token the service resolves.
func validateEndpointURL(svc fdsnws.Service, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrapf(err, "invalid %s URL %q", svc, rawURL)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Errorf("invalid %s URL %q", svc, rawURL)
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) < 3 {
		return errors.Errorf("%s URL %q lacks version and method segments", svc, rawURL)
	}
	if version := segments[len(segments)-2]; version != fdsnws.MajorVersion {
		return errors.Errorf("%s URL %q declares unsupported major version %q", svc, rawURL, version)
	}
	method := segments[len(segments)-1]
	for _, m := range svc.QueryMethods() {
		if method == m {
			return nil
		}
	}
	return errors.Errorf("%s URL %q declares unsupported method %q", svc, rawURL, method)
}
