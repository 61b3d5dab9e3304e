package db

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/eidaws/eidaws/streams"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	networksBucket = []byte("networks")
	stationsBucket = []byte("stations")
	channelsBucket = []byte("channels")
	vnetsBucket    = []byte("virtual-networks")
	metaBucket     = []byte("metadata")

	lastHarvestKey = []byte("last-harvest")
)

// Services the routing store resolves.
const (
	ServiceDataselect   = "dataselect"
	ServiceStation      = "station"
	ServiceWFCatalog    = "wfcatalog"
	ServiceAvailability = "availability"
)

// Resolution levels of the store surfaces.
const (
	LevelNetwork = "network"
	LevelStation = "station"
	LevelChannel = "channel"
)

// Restricted statuses of inventory epochs.
const (
	RestrictedOpen    = "open"
	RestrictedClosed  = "closed"
	RestrictedPartial = "partial"
)

// routeRow is one endpoint URL serving the enclosing entity epoch over a
// routing interval.
type routeRow struct {
	Service  string    `json:"service"`
	URL      string    `json:"url"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	LastSeen time.Time `json:"lastseen"`
}

// epochRow is one validity epoch of a network, station or channel, carrying
// the station coordinates where applicable and the routes serving it.
type epochRow struct {
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	Restricted string     `json:"restricted"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	Routes     []routeRow `json:"routes,omitempty"`
	LastSeen   time.Time  `json:"lastseen"`
}

// entityRow is the bucket value of one network, station or channel key.
type entityRow struct {
	Epochs []epochRow `json:"epochs"`
}

// vnetEpochRow is one member stream of a virtual network over a validity
// window.
type vnetEpochRow struct {
	Network  string    `json:"network"`
	Station  string    `json:"station"`
	Location string    `json:"location"`
	Channel  string    `json:"channel"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	LastSeen time.Time `json:"lastseen"`
}

func (v vnetEpochRow) stream() streams.Stream {
	return streams.Stream{Network: v.Network, Station: v.Station, Location: v.Location, Channel: v.Channel}
}

// vnetRow is the bucket value of one virtual network code.
type vnetRow struct {
	Epochs []vnetEpochRow `json:"epochs"`
}

func stationKey(network, station string) []byte {
	return []byte(network + "." + station)
}

func channelKey(stream streams.Stream) []byte {
	return []byte(stream.String())
}

// likePatterns holds the translated LIKE patterns of one stream's codes.
type likePatterns [4]string

func likePatternsFor(stream streams.Stream) likePatterns {
	return likePatterns{
		streams.SQLLike(stream.Network),
		streams.SQLLike(stream.Station),
		streams.SQLLike(stream.Location),
		streams.SQLLike(stream.Channel),
	}
}

func (p likePatterns) match(parts []string) bool {
	for i, part := range parts {
		if !streams.LikeMatch(p[i], part) {
			return false
		}
	}
	return true
}

// errStopScan aborts a bucket scan early without surfacing an error.
var errStopScan = errors.New("stop scan")

// scanEntities walks the bucket entries whose key begins with the literal
// prefix of the network pattern, decoding each row. Every entity key starts
// with its network code, so the prefix bounds the scan for patterns with a
// literal head.
func scanEntities(b *bolt.Bucket, networkPattern string, fn func(key string, row *entityRow) error) error {
	prefix := []byte(literalPrefix(networkPattern))
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		row := &entityRow{}
		if err := json.Unmarshal(v, row); err != nil {
			return errors.Wrapf(err, "could not decode row %q", k)
		}
		if err := fn(string(k), row); err != nil {
			if err == errStopScan {
				return nil
			}
			return err
		}
	}
	return nil
}

// literalPrefix returns the run of literal characters preceding the first
// wildcard of an FDSNWS code pattern.
func literalPrefix(code string) string {
	for i, r := range code {
		if r == '*' || r == '?' {
			return code[:i]
		}
	}
	return code
}

func hasWildcard(code string) bool {
	return strings.ContainsAny(code, "*?")
}

// wildcardOnly reports whether a code consists of wildcard characters only,
// i.e. constrains nothing.
func wildcardOnly(code string) bool {
	if code == "" {
		return false
	}
	for _, r := range code {
		if r != '*' && r != '?' {
			return false
		}
	}
	return true
}

func sortEpochRows(epochs []epochRow) {
	sort.Slice(epochs, func(i, j int) bool {
		if !epochs[i].Start.Equal(epochs[j].Start) {
			return epochs[i].Start.Before(epochs[j].Start)
		}
		if epochs[i].End.IsZero() != epochs[j].End.IsZero() {
			return epochs[j].End.IsZero()
		}
		return epochs[i].End.Before(epochs[j].End)
	})
}

// LastHarvest returns the completion time of the most recent harvest run, or
// the zero time when the store was never harvested.
func (s *Store) LastHarvest() (time.Time, error) {
	var t time.Time
	err := s.view(func(tx *bolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(lastHarvestKey)
		if v == nil {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, string(v))
		if err != nil {
			return errors.Wrap(err, "could not decode last harvest time")
		}
		t = parsed
		return nil
	})
	return t, err
}

// SetLastHarvest records the completion time of a harvest run.
func (s *Store) SetLastHarvest(t time.Time) error {
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put(lastHarvestKey, []byte(t.UTC().Format(time.RFC3339Nano)))
	})
}
