package db

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/eidaws/eidaws/streams"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	bolt "go.etcd.io/bbolt"
)

var (
	routeQueriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stationlite_route_queries_total",
		Help: "The number of route resolutions served by the routing store.",
	})
	vnetCacheHit = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stationlite_vnet_cache_hit",
		Help: "The number of virtual network lookups answered from the cache.",
	})
	vnetCacheMiss = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stationlite_vnet_cache_miss",
		Help: "The number of virtual network lookups that scanned the store.",
	})
)

// Resolution failures surfaced to the caller. Anything else is an internal
// store error.
var (
	ErrInvalidService            = errors.New("invalid service")
	ErrInvalidSpatialConstraints = errors.New("invalid spatial constraints")
)

// BBox constrains route resolution to stations within a geographic bounding
// box. Bounds are inclusive.
type BBox struct {
	MinLatitude  float64
	MaxLatitude  float64
	MinLongitude float64
	MaxLongitude float64
}

func (b *BBox) valid() bool {
	return b.MinLatitude < b.MaxLatitude && b.MinLongitude < b.MaxLongitude
}

func (b *BBox) contains(lat, lon float64) bool {
	return lat >= b.MinLatitude && lat <= b.MaxLatitude &&
		lon >= b.MinLongitude && lon <= b.MaxLongitude
}

// RouteQuery describes one route resolution against the store.
type RouteQuery struct {
	// StreamEpochs are the streams and windows to resolve. Codes may carry
	// FDSNWS wildcards; a non wildcard network code may name a virtual
	// network.
	StreamEpochs []streams.StreamEpoch
	// Service is the target service, one of the Service constants.
	Service string
	// Level picks the granularity of the emitted stream epochs. The empty
	// level and the response level resolve like the channel level.
	Level string
	// Access restricts resolution to open or closed epochs. Empty or "any"
	// matches both.
	Access string
	// Method requires routed URLs to end in the given method token, e.g.
	// query or queryauth. Empty matches every method.
	Method string
	// BBox restricts resolution to stations within the box when non-nil.
	BBox *BBox
}

// QueryRoutes resolves stream epochs into dispatchable routes: virtual
// networks are expanded, entity epochs are joined with their routes under the
// code, access, spatial and method constraints, effective epochs are clipped
// to the query window and the surviving stream epochs are grouped by endpoint
// URL.
func (s *Store) QueryRoutes(ctx context.Context, q *RouteQuery) ([]streams.Route, error) {
	if !validService(q.Service) {
		return nil, ErrInvalidService
	}
	if q.BBox != nil && !q.BBox.valid() {
		return nil, ErrInvalidSpatialConstraints
	}
	level := effectiveLevel(q.Level)

	byURL := make(map[string]*streams.StreamEpochsHandler)
	err := s.view(func(tx *bolt.Tx) error {
		for _, se := range q.StreamEpochs {
			if err := ctx.Err(); err != nil {
				return err
			}
			expanded, err := s.expandVirtual(tx, se)
			if err != nil {
				return err
			}
			for _, ese := range expanded {
				if err := resolveRoutes(tx, ese, q, level, byURL); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	routeQueriesTotal.Inc()

	routes := make([]streams.Route, 0, len(byURL))
	for u, h := range byURL {
		var epochs []streams.StreamEpoch
		if level == LevelNetwork || level == LevelStation {
			epochs = h.StreamEpochHulls()
		} else {
			epochs = h.StreamEpochs()
		}
		routes = append(routes, streams.Route{URL: u, StreamEpochs: epochs})
	}
	streams.SortRoutes(routes)
	return routes, nil
}

func validService(service string) bool {
	switch service {
	case ServiceDataselect, ServiceStation, ServiceWFCatalog, ServiceAvailability:
		return true
	}
	return false
}

// effectiveLevel maps the response level onto the channel level: responses
// are routed per channel.
func effectiveLevel(level string) string {
	switch level {
	case LevelNetwork, LevelStation:
		return level
	}
	return LevelChannel
}

func resolveRoutes(tx *bolt.Tx, se streams.StreamEpoch, q *RouteQuery, level string, byURL map[string]*streams.StreamEpochsHandler) error {
	switch level {
	case LevelNetwork:
		return resolveNetworkRoutes(tx, se, q, byURL)
	case LevelStation:
		return resolveStationRoutes(tx, se, q, byURL)
	}
	return resolveChannelRoutes(tx, se, q, byURL)
}

func resolveChannelRoutes(tx *bolt.Tx, se streams.StreamEpoch, q *RouteQuery, byURL map[string]*streams.StreamEpochsHandler) error {
	window := se.Epoch()
	pats := likePatternsFor(se.Stream)
	return scanEntities(tx.Bucket(channelsBucket), se.Stream.Network, func(key string, row *entityRow) error {
		parts := strings.SplitN(key, ".", 4)
		if len(parts) != 4 || !pats.match(parts) {
			return nil
		}
		stream := streams.Stream{Network: parts[0], Station: parts[1], Location: parts[2], Channel: parts[3]}
		for _, ep := range row.Epochs {
			if !accessAllowed(q.Access, ep.Restricted) {
				continue
			}
			if q.BBox != nil && !q.BBox.contains(ep.Latitude, ep.Longitude) {
				continue
			}
			collectRoutes(stream, ep, q, window, byURL)
		}
		return nil
	})
}

func resolveStationRoutes(tx *bolt.Tx, se streams.StreamEpoch, q *RouteQuery, byURL map[string]*streams.StreamEpochsHandler) error {
	window := se.Epoch()
	pats := likePatternsFor(se.Stream)
	return scanEntities(tx.Bucket(stationsBucket), se.Stream.Network, func(key string, row *entityRow) error {
		parts := strings.SplitN(key, ".", 2)
		if len(parts) != 2 || !pats.match(parts) {
			return nil
		}
		stream := streams.Stream{Network: parts[0], Station: parts[1], Location: "*", Channel: "*"}
		for _, ep := range row.Epochs {
			if !accessAllowed(q.Access, ep.Restricted) {
				continue
			}
			if q.BBox != nil && !q.BBox.contains(ep.Latitude, ep.Longitude) {
				continue
			}
			collectRoutes(stream, ep, q, window, byURL)
		}
		return nil
	})
}

func resolveNetworkRoutes(tx *bolt.Tx, se streams.StreamEpoch, q *RouteQuery, byURL map[string]*streams.StreamEpochsHandler) error {
	window := se.Epoch()
	pat := streams.SQLLike(se.Stream.Network)
	return scanEntities(tx.Bucket(networksBucket), se.Stream.Network, func(key string, row *entityRow) error {
		if !streams.LikeMatch(pat, key) {
			return nil
		}
		// Network epochs carry no coordinates; a spatial constraint holds
		// when any station of the network lies within the box.
		if q.BBox != nil && !networkWithinBBox(tx, key, q.BBox) {
			return nil
		}
		stream := streams.Stream{Network: key, Station: "*", Location: "*", Channel: "*"}
		for _, ep := range row.Epochs {
			if !accessAllowed(q.Access, ep.Restricted) {
				continue
			}
			collectRoutes(stream, ep, q, window, byURL)
		}
		return nil
	})
}

func networkWithinBBox(tx *bolt.Tx, network string, bbox *BBox) bool {
	within := false
	_ = scanEntities(tx.Bucket(stationsBucket), network+".", func(_ string, row *entityRow) error {
		for _, ep := range row.Epochs {
			if bbox.contains(ep.Latitude, ep.Longitude) {
				within = true
				return errStopScan
			}
		}
		return nil
	})
	return within
}

// collectRoutes joins one admissible entity epoch with its routes: the
// effective epoch is the intersection of the entity epoch, the routing
// interval and the query window. Station service epochs get their derived
// boundaries canonicalized so adjacent entity epochs stay distinguishable.
func collectRoutes(stream streams.Stream, ep epochRow, q *RouteQuery, window streams.Epoch, byURL map[string]*streams.StreamEpochsHandler) {
	entity := streams.Epoch{Start: ep.Start, End: ep.End}
	for _, rt := range ep.Routes {
		if rt.Service != q.Service {
			continue
		}
		if q.Method != "" && !strings.HasSuffix(rt.URL, "/"+q.Method) {
			continue
		}
		iv, ok := entity.Intersect(streams.Epoch{Start: rt.Start, End: rt.End})
		if !ok {
			continue
		}
		iv, ok = iv.Intersect(window)
		if !ok {
			continue
		}
		if q.Service == ServiceStation {
			if iv, ok = streams.CanonicalizeEpoch(iv, window); !ok {
				continue
			}
		}
		h := byURL[rt.URL]
		if h == nil {
			h = streams.NewStreamEpochsHandler()
			byURL[rt.URL] = h
		}
		h.Add(streams.StreamEpoch{Stream: stream, StartTime: iv.Start, EndTime: iv.End})
	}
}

func accessAllowed(access, restricted string) bool {
	switch access {
	case "open":
		return restricted == RestrictedOpen || restricted == RestrictedPartial
	case "closed":
		return restricted == RestrictedClosed || restricted == RestrictedPartial
	}
	return true
}

// expandVirtual replaces a stream epoch whose network code names virtual
// networks with the member streams of those networks, each clipped to the
// membership window. Wildcard-only network codes never match virtual
// networks; codes matching none pass through unchanged.
func (s *Store) expandVirtual(tx *bolt.Tx, se streams.StreamEpoch) ([]streams.StreamEpoch, error) {
	if wildcardOnly(se.Stream.Network) {
		return []streams.StreamEpoch{se}, nil
	}
	members, err := s.virtualMembers(tx, se.Stream.Network)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []streams.StreamEpoch{se}, nil
	}
	window := se.Epoch()
	out := make([]streams.StreamEpoch, 0, len(members))
	for _, m := range members {
		iv, ok := streams.Epoch{Start: m.Start, End: m.End}.Intersect(window)
		if !ok {
			continue
		}
		stream, ok := narrowStream(m.stream(), se.Stream)
		if !ok {
			continue
		}
		out = append(out, streams.StreamEpoch{Stream: stream, StartTime: iv.Start, EndTime: iv.End})
	}
	return out, nil
}

// virtualMembers returns the member streams of every virtual network whose
// code matches the pattern. Results are cached per pattern; the common case
// of a real network code caches its empty result as well.
func (s *Store) virtualMembers(tx *bolt.Tx, pattern string) ([]vnetEpochRow, error) {
	if v, ok := s.vnetCache.Get(pattern); ok {
		vnetCacheHit.Inc()
		return v.([]vnetEpochRow), nil
	}
	vnetCacheMiss.Inc()

	var members []vnetEpochRow
	pat := streams.SQLLike(pattern)
	c := tx.Bucket(vnetsBucket).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if !streams.LikeMatch(pat, string(k)) {
			continue
		}
		row := &vnetRow{}
		if err := json.Unmarshal(v, row); err != nil {
			return nil, errors.Wrapf(err, "could not decode virtual network %q", k)
		}
		members = append(members, row.Epochs...)
	}
	s.vnetCache.Add(pattern, members)
	return members, nil
}

// narrowStream reconciles a virtual network member with the station,
// location and channel constraints of the original query. Wildcard-only
// member codes adopt the query pattern; concrete member codes must match it;
// partially wildcarded member codes win as membership is authoritative.
func narrowStream(member, query streams.Stream) (streams.Stream, bool) {
	var ok bool
	if member.Station, ok = narrowCode(member.Station, query.Station); !ok {
		return streams.Stream{}, false
	}
	if member.Location, ok = narrowCode(member.Location, query.Location); !ok {
		return streams.Stream{}, false
	}
	if member.Channel, ok = narrowCode(member.Channel, query.Channel); !ok {
		return streams.Stream{}, false
	}
	return member, true
}

func narrowCode(member, query string) (string, bool) {
	switch {
	case wildcardOnly(member):
		return query, true
	case !hasWildcard(member):
		if streams.LikeMatch(streams.SQLLike(query), member) {
			return member, true
		}
		return "", false
	default:
		return member, true
	}
}
