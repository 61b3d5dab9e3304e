package db

import (
	"context"
	"testing"
	"time"

	"github.com/eidaws/eidaws/streams"
	"github.com/eidaws/eidaws/testing/assert"
	"github.com/eidaws/eidaws/testing/require"
	bolt "go.etcd.io/bbolt"
)

func TestEmergeChannelEpoch_IdenticalIntervalRefreshes(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)
	hasli := streams.Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"}

	require.NoError(t, s.EmergeChannelEpoch(ctx, hasli, EpochUpsert{
		Start:      date(1),
		End:        date(5),
		Restricted: RestrictedOpen,
		Routes:     openRoute(ServiceDataselect, dataselectURL),
	}, date(20)))
	require.NoError(t, s.EmergeChannelEpoch(ctx, hasli, EpochUpsert{
		Start:      date(1),
		End:        date(5),
		Restricted: RestrictedPartial,
		Routes:     openRoute(ServiceDataselect, dataselectURL),
	}, date(21)))

	epochs, err := s.QueryChannels(ctx, &ChannelQuery{
		StreamEpochs: []streams.StreamEpoch{wildcardEpoch(date(1), date(10))},
	})
	require.NoError(t, err)
	assert.DeepEqual(t, []ChannelEpoch{{
		Stream:     hasli,
		StartTime:  date(1),
		EndTime:    date(5),
		Restricted: RestrictedPartial,
	}}, epochs, "re-harvesting an identical interval must refresh in place")

	removed, err := s.Truncate(ctx, date(21))
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	removed, err = s.Truncate(ctx, date(22))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	epochs, err = s.QueryChannels(ctx, &ChannelQuery{
		StreamEpochs: []streams.StreamEpoch{wildcardEpoch(date(1), date(10))},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, len(epochs))
}

func TestEmergeChannelEpoch_OverlapSupersedes(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)
	hasli := streams.Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"}

	require.NoError(t, s.EmergeChannelEpoch(ctx, hasli, EpochUpsert{
		Start:      date(1),
		End:        date(10),
		Restricted: RestrictedOpen,
		Routes:     openRoute(ServiceDataselect, dataselectURL),
	}, date(20)))
	require.NoError(t, s.EmergeChannelEpoch(ctx, hasli, EpochUpsert{
		Start:      date(5),
		End:        date(15),
		Restricted: RestrictedOpen,
	}, date(21)))

	epochs, err := s.QueryChannels(ctx, &ChannelQuery{
		StreamEpochs: []streams.StreamEpoch{wildcardEpoch(date(1), date(20))},
	})
	require.NoError(t, err)
	assert.DeepEqual(t, []ChannelEpoch{{
		Stream:     hasli,
		StartTime:  date(5),
		EndTime:    date(15),
		Restricted: RestrictedOpen,
	}}, epochs, "an overlapping interval supersedes the stored one")

	routes, err := s.QueryRoutes(ctx, &RouteQuery{
		StreamEpochs: []streams.StreamEpoch{wildcardEpoch(date(1), date(20))},
		Service:      ServiceDataselect,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, len(routes), "routes of a superseded epoch are dropped with it")
}

func TestEmergeChannelEpoch_DisjointCoexist(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)
	hasli := streams.Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"}

	require.NoError(t, s.EmergeChannelEpoch(ctx, hasli, EpochUpsert{
		Start:      date(5),
		End:        date(8),
		Restricted: RestrictedOpen,
	}, date(20)))
	require.NoError(t, s.EmergeChannelEpoch(ctx, hasli, EpochUpsert{
		Start:      date(1),
		End:        date(3),
		Restricted: RestrictedOpen,
	}, date(20)))

	epochs, err := s.QueryChannels(ctx, &ChannelQuery{
		StreamEpochs: []streams.StreamEpoch{wildcardEpoch(date(1), date(10))},
	})
	require.NoError(t, err)
	assert.DeepEqual(t, []ChannelEpoch{
		{Stream: hasli, StartTime: date(1), EndTime: date(3), Restricted: RestrictedOpen},
		{Stream: hasli, StartTime: date(5), EndTime: date(8), Restricted: RestrictedOpen},
	}, epochs)
}

func TestMergeRoutes(t *testing.T) {
	t.Run("overlap unions", func(t *testing.T) {
		stored := []routeRow{{
			Service:  ServiceDataselect,
			URL:      dataselectURL,
			Start:    date(1),
			End:      date(5),
			LastSeen: date(20),
		}}
		incoming := []RouteRef{{Service: ServiceDataselect, URL: dataselectURL, Start: date(3), End: date(8)}}
		assert.DeepEqual(t, []routeRow{{
			Service:  ServiceDataselect,
			URL:      dataselectURL,
			Start:    date(1),
			End:      date(8),
			LastSeen: date(21),
		}}, mergeRoutes(stored, incoming, date(21)))
	})

	t.Run("adjacency unions", func(t *testing.T) {
		stored := []routeRow{{
			Service:  ServiceDataselect,
			URL:      dataselectURL,
			Start:    date(1),
			End:      date(3),
			LastSeen: date(20),
		}}
		incoming := []RouteRef{{Service: ServiceDataselect, URL: dataselectURL, Start: date(3), End: date(5)}}
		assert.DeepEqual(t, []routeRow{{
			Service:  ServiceDataselect,
			URL:      dataselectURL,
			Start:    date(1),
			End:      date(5),
			LastSeen: date(21),
		}}, mergeRoutes(stored, incoming, date(21)))
	})

	t.Run("disjoint intervals keep their lastseen", func(t *testing.T) {
		stored := []routeRow{{
			Service:  ServiceDataselect,
			URL:      dataselectURL,
			Start:    date(1),
			End:      date(5),
			LastSeen: date(20),
		}}
		incoming := []RouteRef{{Service: ServiceDataselect, URL: dataselectURL, Start: date(9), End: date(12)}}
		assert.DeepEqual(t, []routeRow{
			{Service: ServiceDataselect, URL: dataselectURL, Start: date(1), End: date(5), LastSeen: date(20)},
			{Service: ServiceDataselect, URL: dataselectURL, Start: date(9), End: date(12), LastSeen: date(21)},
		}, mergeRoutes(stored, incoming, date(21)))
	})

	t.Run("open end absorbs", func(t *testing.T) {
		stored := []routeRow{{
			Service:  ServiceDataselect,
			URL:      dataselectURL,
			Start:    date(1),
			LastSeen: date(20),
		}}
		incoming := []RouteRef{{Service: ServiceDataselect, URL: dataselectURL, Start: date(3), End: date(8)}}
		assert.DeepEqual(t, []routeRow{{
			Service:  ServiceDataselect,
			URL:      dataselectURL,
			Start:    date(1),
			LastSeen: date(21),
		}}, mergeRoutes(stored, incoming, date(21)))
	})
}

func TestEmergeVirtualEpochs(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)
	a001a := streams.Stream{Network: "Z3", Station: "A001A", Channel: "HHZ"}
	a002a := streams.Stream{Network: "Z3", Station: "A002A", Channel: "HHZ"}

	readMembers := func(t *testing.T) []vnetEpochRow {
		t.Helper()
		var members []vnetEpochRow
		require.NoError(t, s.view(func(tx *bolt.Tx) error {
			var err error
			members, err = s.virtualMembers(tx, "_ALPARRAY")
			return err
		}))
		return members
	}
	memberRow := func(stream streams.Stream, start, end time.Time, seen time.Time) vnetEpochRow {
		return vnetEpochRow{
			Network:  stream.Network,
			Station:  stream.Station,
			Location: stream.Location,
			Channel:  stream.Channel,
			Start:    start,
			End:      end,
			LastSeen: seen,
		}
	}

	require.NoError(t, s.EmergeVirtualEpochs(ctx, "_ALPARRAY", []VirtualEpoch{
		{Stream: a001a, Start: date(1), End: date(5)},
	}, date(20)))
	assert.DeepEqual(t, []vnetEpochRow{
		memberRow(a001a, date(1), date(5), date(20)),
	}, readMembers(t))

	// Identical membership window: lastseen is bumped.
	require.NoError(t, s.EmergeVirtualEpochs(ctx, "_ALPARRAY", []VirtualEpoch{
		{Stream: a001a, Start: date(1), End: date(5)},
	}, date(21)))
	assert.DeepEqual(t, []vnetEpochRow{
		memberRow(a001a, date(1), date(5), date(21)),
	}, readMembers(t))

	// Overlapping window of the same stream supersedes.
	require.NoError(t, s.EmergeVirtualEpochs(ctx, "_ALPARRAY", []VirtualEpoch{
		{Stream: a001a, Start: date(3), End: date(8)},
	}, date(22)))
	assert.DeepEqual(t, []vnetEpochRow{
		memberRow(a001a, date(3), date(8), date(22)),
	}, readMembers(t))

	// Other streams coexist, sorted by stream.
	require.NoError(t, s.EmergeVirtualEpochs(ctx, "_ALPARRAY", []VirtualEpoch{
		{Stream: a002a, Start: date(1), End: date(4)},
	}, date(22)))
	assert.DeepEqual(t, []vnetEpochRow{
		memberRow(a001a, date(3), date(8), date(22)),
		memberRow(a002a, date(1), date(4), date(22)),
	}, readMembers(t))
}

func TestTruncate_PrunesStaleRoutes(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)
	hasli := streams.Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"}

	require.NoError(t, s.EmergeChannelEpoch(ctx, hasli, EpochUpsert{
		Start:      date(1),
		Restricted: RestrictedOpen,
		Routes: []RouteRef{
			{Service: ServiceDataselect, URL: dataselectURL, Start: date(1)},
			{Service: ServiceStation, URL: stationURL, Start: date(1)},
		},
	}, date(20)))
	// The next harvest no longer routes the station service.
	require.NoError(t, s.EmergeChannelEpoch(ctx, hasli, EpochUpsert{
		Start:      date(1),
		Restricted: RestrictedOpen,
		Routes:     openRoute(ServiceDataselect, dataselectURL),
	}, date(21)))

	removed, err := s.Truncate(ctx, date(21))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	routes, err := s.QueryRoutes(ctx, &RouteQuery{
		StreamEpochs: []streams.StreamEpoch{wildcardEpoch(date(1), date(10))},
		Service:      ServiceStation,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, len(routes), "the stale station route must be gone")

	routes, err = s.QueryRoutes(ctx, &RouteQuery{
		StreamEpochs: []streams.StreamEpoch{wildcardEpoch(date(1), date(10))},
		Service:      ServiceDataselect,
	})
	require.NoError(t, err)
	require.Equal(t, 1, len(routes))
	assert.Equal(t, dataselectURL, routes[0].URL)
}

func TestTruncate_RemovesStaleVirtualMembers(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)
	a001a := streams.Stream{Network: "Z3", Station: "A001A", Channel: "HHZ"}

	require.NoError(t, s.EmergeVirtualEpochs(ctx, "_OLD", []VirtualEpoch{
		{Stream: a001a, Start: date(1)},
	}, date(20)))
	require.NoError(t, s.EmergeVirtualEpochs(ctx, "_FRESH", []VirtualEpoch{
		{Stream: a001a, Start: date(1)},
	}, date(22)))

	removed, err := s.Truncate(ctx, date(21))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	for code, want := range map[string]int{"_OLD": 0, "_FRESH": 1} {
		var members []vnetEpochRow
		require.NoError(t, s.view(func(tx *bolt.Tx) error {
			var err error
			members, err = s.virtualMembers(tx, code)
			return err
		}))
		assert.Equal(t, want, len(members), "virtual network %s", code)
	}
}
