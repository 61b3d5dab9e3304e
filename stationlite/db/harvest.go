package db

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/eidaws/eidaws/streams"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// RouteRef declares one endpoint URL serving an entity epoch over a routing
// interval.
type RouteRef struct {
	Service string
	URL     string
	Start   time.Time
	End     time.Time
}

// EpochUpsert carries one harvested entity epoch. Latitude and Longitude
// hold the station coordinates for station and channel epochs and are unused
// for network epochs.
type EpochUpsert struct {
	Start      time.Time
	End        time.Time
	Restricted string
	Latitude   float64
	Longitude  float64
	Routes     []RouteRef
}

// VirtualEpoch is one member stream of a virtual network over a membership
// window.
type VirtualEpoch struct {
	Stream streams.Stream
	Start  time.Time
	End    time.Time
}

// EmergeNetworkEpoch inserts or updates one validity epoch of a network.
func (s *Store) EmergeNetworkEpoch(ctx context.Context, code string, up EpochUpsert, seen time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.batch(func(tx *bolt.Tx) error {
		return emergeEpoch(tx.Bucket(networksBucket), []byte(code), up, seen.UTC())
	})
}

// EmergeStationEpoch inserts or updates one validity epoch of a station.
func (s *Store) EmergeStationEpoch(ctx context.Context, network, station string, up EpochUpsert, seen time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.batch(func(tx *bolt.Tx) error {
		return emergeEpoch(tx.Bucket(stationsBucket), stationKey(network, station), up, seen.UTC())
	})
}

// EmergeChannelEpoch inserts or updates one validity epoch of a channel.
func (s *Store) EmergeChannelEpoch(ctx context.Context, stream streams.Stream, up EpochUpsert, seen time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.batch(func(tx *bolt.Tx) error {
		return emergeEpoch(tx.Bucket(channelsBucket), channelKey(stream), up, seen.UTC())
	})
}

// emergeEpoch applies one harvested epoch to an entity row. An identical
// stored interval is refreshed in place: attributes are updated, the routes
// are unioned and lastseen is bumped. A stored interval overlapping but not
// equal to the harvested one is superseded and dropped together with its
// routes. Disjoint intervals coexist.
func emergeEpoch(b *bolt.Bucket, key []byte, up EpochUpsert, seen time.Time) error {
	up.Start, up.End = up.Start.UTC(), up.End.UTC()
	row := &entityRow{}
	if v := b.Get(key); v != nil {
		if err := json.Unmarshal(v, row); err != nil {
			return errors.Wrapf(err, "could not decode row %q", key)
		}
	}

	harvested := streams.Epoch{Start: up.Start, End: up.End}
	var kept []epochRow
	updated := false
	for _, ep := range row.Epochs {
		stored := streams.Epoch{Start: ep.Start, End: ep.End}
		if stored.Start.Equal(harvested.Start) && stored.End.Equal(harvested.End) {
			ep.Restricted = up.Restricted
			ep.Latitude = up.Latitude
			ep.Longitude = up.Longitude
			ep.Routes = mergeRoutes(ep.Routes, up.Routes, seen)
			ep.LastSeen = seen
			kept = append(kept, ep)
			updated = true
			continue
		}
		if _, overlaps := stored.Intersect(harvested); overlaps {
			continue
		}
		kept = append(kept, ep)
	}
	if !updated {
		kept = append(kept, epochRow{
			Start:      up.Start,
			End:        up.End,
			Restricted: up.Restricted,
			Latitude:   up.Latitude,
			Longitude:  up.Longitude,
			Routes:     mergeRoutes(nil, up.Routes, seen),
			LastSeen:   seen,
		})
	}
	sortEpochRows(kept)
	row.Epochs = kept

	enc, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return b.Put(key, enc)
}

// routeInterval pairs a routing interval with the time it was last seen.
type routeInterval struct {
	epoch streams.Epoch
	seen  time.Time
}

// mergeRoutes unions incoming routing intervals into the stored ones.
// Intervals of the same service and URL that overlap or touch are collapsed
// into their union; a merged interval carries the freshest lastseen of its
// parts. Stored routes the harvest did not touch keep their lastseen, leaving
// them to the truncation that follows a configuration change.
func mergeRoutes(stored []routeRow, incoming []RouteRef, seen time.Time) []routeRow {
	type endpointKey struct {
		service string
		url     string
	}
	grouped := make(map[endpointKey][]routeInterval)
	for _, rt := range stored {
		key := endpointKey{service: rt.Service, url: rt.URL}
		grouped[key] = append(grouped[key], routeInterval{
			epoch: streams.Epoch{Start: rt.Start, End: rt.End},
			seen:  rt.LastSeen,
		})
	}
	for _, rt := range incoming {
		key := endpointKey{service: rt.Service, url: rt.URL}
		grouped[key] = append(grouped[key], routeInterval{
			epoch: streams.Epoch{Start: rt.Start.UTC(), End: rt.End.UTC()},
			seen:  seen,
		})
	}

	keys := make([]endpointKey, 0, len(grouped))
	for key := range grouped {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].service != keys[j].service {
			return keys[i].service < keys[j].service
		}
		return keys[i].url < keys[j].url
	})

	var out []routeRow
	for _, key := range keys {
		for _, iv := range coalesceIntervals(grouped[key]) {
			out = append(out, routeRow{
				Service:  key.service,
				URL:      key.url,
				Start:    iv.epoch.Start,
				End:      iv.epoch.End,
				LastSeen: iv.seen,
			})
		}
	}
	return out
}

// coalesceIntervals merges overlapping and adjacent intervals into their
// union.
func coalesceIntervals(items []routeInterval) []routeInterval {
	if len(items) == 0 {
		return nil
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].epoch.Start.Equal(items[j].epoch.Start) {
			return items[i].epoch.Start.Before(items[j].epoch.Start)
		}
		if items[i].epoch.Bounded() != items[j].epoch.Bounded() {
			return items[j].epoch.Bounded()
		}
		return items[i].epoch.End.Before(items[j].epoch.End)
	})

	out := []routeInterval{items[0]}
	for _, it := range items[1:] {
		last := &out[len(out)-1]
		if !intervalsTouch(last.epoch, it.epoch) {
			out = append(out, it)
			continue
		}
		if last.epoch.Bounded() && (!it.epoch.Bounded() || it.epoch.End.After(last.epoch.End)) {
			last.epoch.End = it.epoch.End
		}
		if it.seen.After(last.seen) {
			last.seen = it.seen
		}
	}
	return out
}

func intervalsTouch(a, b streams.Epoch) bool {
	if a.Bounded() && a.End.Before(b.Start) {
		return false
	}
	if b.Bounded() && b.End.Before(a.Start) {
		return false
	}
	return true
}

// EmergeVirtualEpochs inserts or updates the member streams of a virtual
// network. An identical stored member is refreshed; a member of the same
// stream with an overlapping window is superseded.
func (s *Store) EmergeVirtualEpochs(ctx context.Context, code string, members []VirtualEpoch, seen time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seen = seen.UTC()
	err := s.batch(func(tx *bolt.Tx) error {
		b := tx.Bucket(vnetsBucket)
		key := []byte(code)
		row := &vnetRow{}
		if v := b.Get(key); v != nil {
			if err := json.Unmarshal(v, row); err != nil {
				return errors.Wrapf(err, "could not decode virtual network %q", key)
			}
		}
		for _, m := range members {
			row.Epochs = emergeVirtualEpoch(row.Epochs, m, seen)
		}
		sort.Slice(row.Epochs, func(i, j int) bool {
			if row.Epochs[i].stream() != row.Epochs[j].stream() {
				return row.Epochs[i].stream().Less(row.Epochs[j].stream())
			}
			return row.Epochs[i].Start.Before(row.Epochs[j].Start)
		})
		enc, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put(key, enc)
	})
	if err != nil {
		return err
	}
	s.vnetCache.Purge()
	return nil
}

func emergeVirtualEpoch(stored []vnetEpochRow, m VirtualEpoch, seen time.Time) []vnetEpochRow {
	member := streams.Epoch{Start: m.Start, End: m.End}
	var kept []vnetEpochRow
	updated := false
	for _, ep := range stored {
		if ep.stream() != m.Stream {
			kept = append(kept, ep)
			continue
		}
		existing := streams.Epoch{Start: ep.Start, End: ep.End}
		if existing.Start.Equal(member.Start) && existing.End.Equal(member.End) {
			ep.LastSeen = seen
			kept = append(kept, ep)
			updated = true
			continue
		}
		if _, overlaps := existing.Intersect(member); overlaps {
			continue
		}
		kept = append(kept, ep)
	}
	if !updated {
		kept = append(kept, vnetEpochRow{
			Network:  m.Stream.Network,
			Station:  m.Stream.Station,
			Location: m.Stream.Location,
			Channel:  m.Stream.Channel,
			Start:    m.Start.UTC(),
			End:      m.End.UTC(),
			LastSeen: seen,
		})
	}
	return kept
}

// Truncate removes every epoch, route and virtual network member whose
// lastseen timestamp predates t, dropping entities left without epochs. It
// returns the number of removed rows.
func (s *Store) Truncate(ctx context.Context, t time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	removed := 0
	err := s.update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{networksBucket, stationsBucket, channelsBucket} {
			n, err := truncateEntities(tx.Bucket(bucket), t)
			if err != nil {
				return err
			}
			removed += n
		}
		n, err := truncateVirtual(tx.Bucket(vnetsBucket), t)
		if err != nil {
			return err
		}
		removed += n
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.vnetCache.Purge()
	return removed, nil
}

type bucketWrite struct {
	key []byte
	// value nil deletes the key.
	value []byte
}

func truncateEntities(b *bolt.Bucket, t time.Time) (int, error) {
	removed := 0
	var writes []bucketWrite
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		row := &entityRow{}
		if err := json.Unmarshal(v, row); err != nil {
			return 0, errors.Wrapf(err, "could not decode row %q", k)
		}
		var kept []epochRow
		changed := false
		for _, ep := range row.Epochs {
			if ep.LastSeen.Before(t) {
				removed++
				changed = true
				continue
			}
			var routes []routeRow
			for _, rt := range ep.Routes {
				if rt.LastSeen.Before(t) {
					removed++
					changed = true
					continue
				}
				routes = append(routes, rt)
			}
			ep.Routes = routes
			kept = append(kept, ep)
		}
		if !changed {
			continue
		}
		key := append([]byte(nil), k...)
		if len(kept) == 0 {
			writes = append(writes, bucketWrite{key: key})
			continue
		}
		row.Epochs = kept
		enc, err := json.Marshal(row)
		if err != nil {
			return 0, err
		}
		writes = append(writes, bucketWrite{key: key, value: enc})
	}
	if err := applyWrites(b, writes); err != nil {
		return 0, err
	}
	return removed, nil
}

func truncateVirtual(b *bolt.Bucket, t time.Time) (int, error) {
	removed := 0
	var writes []bucketWrite
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		row := &vnetRow{}
		if err := json.Unmarshal(v, row); err != nil {
			return 0, errors.Wrapf(err, "could not decode virtual network %q", k)
		}
		var kept []vnetEpochRow
		for _, ep := range row.Epochs {
			if ep.LastSeen.Before(t) {
				removed++
				continue
			}
			kept = append(kept, ep)
		}
		if len(kept) == len(row.Epochs) {
			continue
		}
		key := append([]byte(nil), k...)
		if len(kept) == 0 {
			writes = append(writes, bucketWrite{key: key})
			continue
		}
		row.Epochs = kept
		enc, err := json.Marshal(row)
		if err != nil {
			return 0, err
		}
		writes = append(writes, bucketWrite{key: key, value: enc})
	}
	if err := applyWrites(b, writes); err != nil {
		return 0, err
	}
	return removed, nil
}

// applyWrites defers bucket mutations until after cursor iteration.
func applyWrites(b *bolt.Bucket, writes []bucketWrite) error {
	for _, w := range writes {
		if w.value == nil {
			if err := b.Delete(w.key); err != nil {
				return err
			}
			continue
		}
		if err := b.Put(w.key, w.value); err != nil {
			return err
		}
	}
	return nil
}
