package db

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/eidaws/eidaws/streams"
	bolt "go.etcd.io/bbolt"
)

// ChannelQuery describes one inventory lookup on the stationlite surface.
type ChannelQuery struct {
	// StreamEpochs are the streams and windows to look up. Virtual network
	// codes expand like they do during route resolution.
	StreamEpochs []streams.StreamEpoch
	// Level picks the entity granularity, one of the Level constants. Empty
	// means channel. Codes above the level are left empty on the results.
	Level string
}

// ChannelEpoch is one merged entity epoch of the stationlite surface.
type ChannelEpoch struct {
	Stream     streams.Stream
	StartTime  time.Time
	EndTime    time.Time
	Restricted string
}

// QueryChannels returns the entity epochs matching the query at the
// requested level. Overlapping and adjacent epochs of one entity are merged
// when they agree on the restricted status.
func (s *Store) QueryChannels(ctx context.Context, q *ChannelQuery) ([]ChannelEpoch, error) {
	level := q.Level
	if level == "" {
		level = LevelChannel
	}

	type entityKey struct {
		stream     streams.Stream
		restricted string
	}
	merged := make(map[entityKey]*streams.Epochs)
	add := func(stream streams.Stream, restricted string, iv streams.Epoch) {
		key := entityKey{stream: stream, restricted: restricted}
		es := merged[key]
		if es == nil {
			es = &streams.Epochs{}
			merged[key] = es
		}
		es.Add(iv)
	}

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
				if err := collectChannelEpochs(tx, ese, level, add); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []ChannelEpoch
	for key, es := range merged {
		for _, iv := range es.Intervals() {
			out = append(out, ChannelEpoch{
				Stream:     key.stream,
				StartTime:  iv.Start,
				EndTime:    iv.End,
				Restricted: key.restricted,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stream != out[j].Stream {
			return out[i].Stream.Less(out[j].Stream)
		}
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].Restricted < out[j].Restricted
	})
	return out, nil
}

func collectChannelEpochs(tx *bolt.Tx, se streams.StreamEpoch, level string, add func(streams.Stream, string, streams.Epoch)) error {
	window := se.Epoch()
	pats := likePatternsFor(se.Stream)

	switch level {
	case LevelNetwork:
		pat := streams.SQLLike(se.Stream.Network)
		return scanEntities(tx.Bucket(networksBucket), se.Stream.Network, func(key string, row *entityRow) error {
			if !streams.LikeMatch(pat, key) {
				return nil
			}
			addEntityEpochs(streams.Stream{Network: key}, row, window, add)
			return nil
		})
	case LevelStation:
		return scanEntities(tx.Bucket(stationsBucket), se.Stream.Network, func(key string, row *entityRow) error {
			parts := strings.SplitN(key, ".", 2)
			if len(parts) != 2 || !pats.match(parts) {
				return nil
			}
			addEntityEpochs(streams.Stream{Network: parts[0], Station: parts[1]}, row, window, add)
			return nil
		})
	}
	return scanEntities(tx.Bucket(channelsBucket), se.Stream.Network, func(key string, row *entityRow) error {
		parts := strings.SplitN(key, ".", 4)
		if len(parts) != 4 || !pats.match(parts) {
			return nil
		}
		stream := streams.Stream{Network: parts[0], Station: parts[1], Location: parts[2], Channel: parts[3]}
		addEntityEpochs(stream, row, window, add)
		return nil
	})
}

func addEntityEpochs(stream streams.Stream, row *entityRow, window streams.Epoch, add func(streams.Stream, string, streams.Epoch)) {
	for _, ep := range row.Epochs {
		iv, ok := streams.Epoch{Start: ep.Start, End: ep.End}.Intersect(window)
		if !ok {
			continue
		}
		add(stream, ep.Restricted, iv)
	}
}

// MatchChannelEpochs returns the concrete channel epochs matching a stream
// pattern, clipped to the window. The harvester resolves virtual network
// members with it.
func (s *Store) MatchChannelEpochs(ctx context.Context, pattern streams.Stream, window streams.Epoch) ([]ChannelEpoch, error) {
	var out []ChannelEpoch
	err := s.view(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		pats := likePatternsFor(pattern)
		return scanEntities(tx.Bucket(channelsBucket), pattern.Network, func(key string, row *entityRow) error {
			parts := strings.SplitN(key, ".", 4)
			if len(parts) != 4 || !pats.match(parts) {
				return nil
			}
			stream := streams.Stream{Network: parts[0], Station: parts[1], Location: parts[2], Channel: parts[3]}
			for _, ep := range row.Epochs {
				iv, ok := streams.Epoch{Start: ep.Start, End: ep.End}.Intersect(window)
				if !ok {
					continue
				}
				out = append(out, ChannelEpoch{
					Stream:     stream,
					StartTime:  iv.Start,
					EndTime:    iv.End,
					Restricted: ep.Restricted,
				})
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stream != out[j].Stream {
			return out[i].Stream.Less(out[j].Stream)
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}
