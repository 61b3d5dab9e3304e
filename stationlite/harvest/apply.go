package harvest

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/eidaws/eidaws/stationlite/db"
	"github.com/eidaws/eidaws/streams"
	"github.com/sirupsen/logrus"
)

// applyInventory emerges the entities of one route's inventory together with
// their routes. Channel epochs carry the effective per-channel routes;
// station and network epochs carry the union of the routes of the channels
// below them, so resolution at every level dispatches without joins.
func (h *Harvester) applyInventory(ctx context.Context, store *db.Store, endpoints []ServiceEndpoint, inv *Inventory, seen time.Time) error {
	for _, network := range inv.Networks {
		networkRoutes := newRouteSet()
		for _, station := range network.Stations {
			stationRoutes := newRouteSet()
			for _, channel := range station.Channels {
				stream := streams.Stream{
					Network:  network.Code,
					Station:  station.Code,
					Location: channel.Location,
					Channel:  channel.Code,
				}
				var channelRoutes []db.RouteRef
				for _, ep := range endpoints {
					effURL, ok := h.effectiveURL(ep, stream, channel.Restricted)
					if !ok {
						continue
					}
					ref := db.RouteRef{
						Service: string(ep.Service),
						URL:     effURL,
						Start:   ep.Epoch.Start,
						End:     ep.Epoch.End,
					}
					channelRoutes = append(channelRoutes, ref)
					stationRoutes.add(ref)
					networkRoutes.add(ref)
				}
				up := db.EpochUpsert{
					Start:      channel.Epoch.Start,
					End:        channel.Epoch.End,
					Restricted: channel.Restricted,
					Latitude:   channel.Latitude,
					Longitude:  channel.Longitude,
					Routes:     channelRoutes,
				}
				if err := store.EmergeChannelEpoch(ctx, stream, up, seen); err != nil {
					return err
				}
				atomic.AddInt64(&h.stats.channels, 1)
			}
			up := db.EpochUpsert{
				Start:      station.Epoch.Start,
				End:        station.Epoch.End,
				Restricted: station.Restricted,
				Latitude:   station.Latitude,
				Longitude:  station.Longitude,
				Routes:     stationRoutes.refs,
			}
			if err := store.EmergeStationEpoch(ctx, network.Code, station.Code, up, seen); err != nil {
				return err
			}
			atomic.AddInt64(&h.stats.stations, 1)
		}
		up := db.EpochUpsert{
			Start:      network.Epoch.Start,
			End:        network.Epoch.End,
			Restricted: network.Restricted,
			Routes:     networkRoutes.refs,
		}
		if err := store.EmergeNetworkEpoch(ctx, network.Code, up, seen); err != nil {
			return err
		}
		atomic.AddInt64(&h.stats.networks, 1)
	}
	return nil
}

// effectiveURL derives the endpoint URL serving one channel from a declared
// service URL. The method token has to match the channel's restricted
// status; a mismatch is rewritten to the matching token, or rejected when
// the harvester runs strict. Partially restricted channels are served under
// either token, so their declarations pass unchanged.
func (h *Harvester) effectiveURL(ep ServiceEndpoint, stream streams.Stream, restricted string) (string, bool) {
	declared := methodToken(ep.URL)
	wanted := declared
	switch restricted {
	case db.RestrictedOpen:
		wanted = plainMethod(declared)
	case db.RestrictedClosed:
		wanted = authMethod(declared)
	}
	if declared == wanted {
		return ep.URL, true
	}
	if h.cfg.StrictRestricted {
		log.WithFields(logrus.Fields{
			"url":        ep.URL,
			"stream":     stream.String(),
			"restricted": restricted,
		}).Debug("Rejecting route, method contradicts restricted status")
		atomic.AddInt64(&h.stats.rejected, 1)
		return "", false
	}
	return ep.URL[:len(ep.URL)-len(declared)] + wanted, true
}

func methodToken(rawURL string) string {
	if i := strings.LastIndexByte(rawURL, '/'); i >= 0 {
		return rawURL[i+1:]
	}
	return rawURL
}

func plainMethod(method string) string {
	return strings.TrimSuffix(method, "auth")
}

func authMethod(method string) string {
	if strings.HasSuffix(method, "auth") {
		return method
	}
	return method + "auth"
}

// routeSet folds per-channel routes into the unique set a parent entity
// carries, preserving first-seen order.
type routeSet struct {
	seen map[db.RouteRef]struct{}
	refs []db.RouteRef
}

func newRouteSet() *routeSet {
	return &routeSet{seen: map[db.RouteRef]struct{}{}}
}

func (s *routeSet) add(ref db.RouteRef) {
	if _, ok := s.seen[ref]; ok {
		return
	}
	s.seen[ref] = struct{}{}
	s.refs = append(s.refs, ref)
}
