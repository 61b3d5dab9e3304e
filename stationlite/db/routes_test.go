package db

import (
	"context"
	"testing"
	"time"

	"github.com/eidaws/eidaws/streams"
	"github.com/eidaws/eidaws/testing/assert"
	"github.com/eidaws/eidaws/testing/require"
)

const (
	dataselectURL     = "http://eida.example.org/fdsnws/dataselect/1/query"
	dataselectAuthURL = "http://eida.example.org/fdsnws/dataselect/1/queryauth"
	stationURL        = "http://eida.example.org/fdsnws/station/1/query"
	remoteURL         = "http://other.example.org/fdsnws/dataselect/1/query"
)

func wildcardEpoch(start, end time.Time) streams.StreamEpoch {
	return streams.StreamEpoch{
		Stream:    streams.Stream{Network: "*", Station: "*", Location: "*", Channel: "*"},
		StartTime: start,
		EndTime:   end,
	}
}

func openRoute(service, url string) []RouteRef {
	return []RouteRef{{Service: service, URL: url, Start: date(1)}}
}

func TestQueryRoutes_ChannelLevel(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)
	hasli := streams.Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"}

	require.NoError(t, s.EmergeChannelEpoch(ctx, hasli, EpochUpsert{
		Start:      date(1),
		Restricted: RestrictedOpen,
		Latitude:   46.75,
		Longitude:  8.15,
		Routes:     openRoute(ServiceDataselect, dataselectURL),
	}, date(20)))

	routes, err := s.QueryRoutes(ctx, &RouteQuery{
		StreamEpochs: []streams.StreamEpoch{{Stream: hasli, StartTime: date(2), EndTime: date(5)}},
		Service:      ServiceDataselect,
	})
	require.NoError(t, err)
	assert.DeepEqual(t, []streams.Route{{
		URL:          dataselectURL,
		StreamEpochs: []streams.StreamEpoch{{Stream: hasli, StartTime: date(2), EndTime: date(5)}},
	}}, routes, "effective epoch must be clipped to the query window")

	routes, err = s.QueryRoutes(ctx, &RouteQuery{
		StreamEpochs: []streams.StreamEpoch{{Stream: hasli, StartTime: date(2), EndTime: date(5)}},
		Service:      ServiceWFCatalog,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, len(routes), "unrouted services resolve to nothing")
}

func TestQueryRoutes_Wildcards(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)
	davox := streams.Stream{Network: "CH", Station: "DAVOX", Channel: "LHZ"}
	hasli := streams.Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"}
	bfo := streams.Stream{Network: "GR", Station: "BFO", Channel: "LHZ"}

	for _, stream := range []streams.Stream{davox, hasli} {
		require.NoError(t, s.EmergeChannelEpoch(ctx, stream, EpochUpsert{
			Start:      date(1),
			Restricted: RestrictedOpen,
			Routes:     openRoute(ServiceDataselect, dataselectURL),
		}, date(20)))
	}
	require.NoError(t, s.EmergeChannelEpoch(ctx, bfo, EpochUpsert{
		Start:      date(1),
		Restricted: RestrictedOpen,
		Routes:     openRoute(ServiceDataselect, remoteURL),
	}, date(20)))

	routes, err := s.QueryRoutes(ctx, &RouteQuery{
		StreamEpochs: []streams.StreamEpoch{{
			Stream:    streams.Stream{Network: "C?", Station: "*", Location: "*", Channel: "LH*"},
			StartTime: date(1),
			EndTime:   date(5),
		}},
		Service: ServiceDataselect,
	})
	require.NoError(t, err)
	assert.DeepEqual(t, []streams.Route{{
		URL: dataselectURL,
		StreamEpochs: []streams.StreamEpoch{
			{Stream: davox, StartTime: date(1), EndTime: date(5)},
			{Stream: hasli, StartTime: date(1), EndTime: date(5)},
		},
	}}, routes)
}

func TestQueryRoutes_AccessFilter(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)
	open := streams.Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"}
	closed := streams.Stream{Network: "CH", Station: "SGT01", Channel: "HHZ"}

	require.NoError(t, s.EmergeChannelEpoch(ctx, open, EpochUpsert{
		Start:      date(1),
		Restricted: RestrictedOpen,
		Routes:     openRoute(ServiceDataselect, dataselectURL),
	}, date(20)))
	require.NoError(t, s.EmergeChannelEpoch(ctx, closed, EpochUpsert{
		Start:      date(1),
		Restricted: RestrictedClosed,
		Routes:     openRoute(ServiceDataselect, dataselectAuthURL),
	}, date(20)))

	query := func(access string) []streams.Route {
		routes, err := s.QueryRoutes(ctx, &RouteQuery{
			StreamEpochs: []streams.StreamEpoch{wildcardEpoch(date(1), date(5))},
			Service:      ServiceDataselect,
			Access:       access,
		})
		require.NoError(t, err)
		return routes
	}

	routes := query("open")
	require.Equal(t, 1, len(routes))
	assert.Equal(t, dataselectURL, routes[0].URL)

	routes = query("closed")
	require.Equal(t, 1, len(routes))
	assert.Equal(t, dataselectAuthURL, routes[0].URL)

	assert.Equal(t, 2, len(query("any")))
	assert.Equal(t, 2, len(query("")))
}

func TestQueryRoutes_MethodFilter(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)
	hasli := streams.Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"}

	require.NoError(t, s.EmergeChannelEpoch(ctx, hasli, EpochUpsert{
		Start:      date(1),
		Restricted: RestrictedOpen,
		Routes: []RouteRef{
			{Service: ServiceDataselect, URL: dataselectURL, Start: date(1)},
			{Service: ServiceDataselect, URL: dataselectAuthURL, Start: date(1)},
		},
	}, date(20)))

	query := func(method string) []streams.Route {
		routes, err := s.QueryRoutes(ctx, &RouteQuery{
			StreamEpochs: []streams.StreamEpoch{{Stream: hasli, StartTime: date(1), EndTime: date(5)}},
			Service:      ServiceDataselect,
			Method:       method,
		})
		require.NoError(t, err)
		return routes
	}

	routes := query("query")
	require.Equal(t, 1, len(routes), "the query method must not match queryauth URLs")
	assert.Equal(t, dataselectURL, routes[0].URL)

	routes = query("queryauth")
	require.Equal(t, 1, len(routes))
	assert.Equal(t, dataselectAuthURL, routes[0].URL)

	assert.Equal(t, 2, len(query("")))
}

func TestQueryRoutes_BBox(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)
	hasli := streams.Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"}
	davox := streams.Stream{Network: "CH", Station: "DAVOX", Channel: "LHZ"}

	require.NoError(t, s.EmergeChannelEpoch(ctx, hasli, EpochUpsert{
		Start:      date(1),
		Restricted: RestrictedOpen,
		Latitude:   46.75,
		Longitude:  8.15,
		Routes:     openRoute(ServiceDataselect, dataselectURL),
	}, date(20)))
	require.NoError(t, s.EmergeChannelEpoch(ctx, davox, EpochUpsert{
		Start:      date(1),
		Restricted: RestrictedOpen,
		Latitude:   46.77,
		Longitude:  9.88,
		Routes:     openRoute(ServiceDataselect, dataselectURL),
	}, date(20)))

	routes, err := s.QueryRoutes(ctx, &RouteQuery{
		StreamEpochs: []streams.StreamEpoch{wildcardEpoch(date(1), date(5))},
		Service:      ServiceDataselect,
		BBox:         &BBox{MinLatitude: 46, MaxLatitude: 47, MinLongitude: 8, MaxLongitude: 9},
	})
	require.NoError(t, err)
	require.Equal(t, 1, len(routes))
	assert.DeepEqual(t, []streams.StreamEpoch{
		{Stream: hasli, StartTime: date(1), EndTime: date(5)},
	}, routes[0].StreamEpochs)

	_, err = s.QueryRoutes(ctx, &RouteQuery{
		StreamEpochs: []streams.StreamEpoch{wildcardEpoch(date(1), date(5))},
		Service:      ServiceDataselect,
		BBox:         &BBox{MinLatitude: 47, MaxLatitude: 46, MinLongitude: 8, MaxLongitude: 9},
	})
	assert.ErrorIs(t, err, ErrInvalidSpatialConstraints)
}

func TestQueryRoutes_InvalidService(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)

	_, err := s.QueryRoutes(ctx, &RouteQuery{
		StreamEpochs: []streams.StreamEpoch{wildcardEpoch(date(1), date(5))},
		Service:      "seedlink",
	})
	assert.ErrorIs(t, err, ErrInvalidService)
}

func TestQueryRoutes_StationServiceCanonicalization(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)
	hasli := streams.Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"}

	require.NoError(t, s.EmergeChannelEpoch(ctx, hasli, EpochUpsert{
		Start:      date(2),
		End:        date(5),
		Restricted: RestrictedOpen,
		Routes:     openRoute(ServiceStation, stationURL),
	}, date(20)))

	routes, err := s.QueryRoutes(ctx, &RouteQuery{
		StreamEpochs: []streams.StreamEpoch{{Stream: hasli, StartTime: date(1), EndTime: date(10)}},
		Service:      ServiceStation,
	})
	require.NoError(t, err)
	require.Equal(t, 1, len(routes))
	assert.DeepEqual(t, []streams.StreamEpoch{{
		Stream:    hasli,
		StartTime: date(2).Add(streams.CanonicalOffset),
		EndTime:   date(5).Add(-streams.CanonicalOffset),
	}}, routes[0].StreamEpochs, "derived bounds must be offset")

	// Bounds the client supplied stay untouched.
	routes, err = s.QueryRoutes(ctx, &RouteQuery{
		StreamEpochs: []streams.StreamEpoch{{Stream: hasli, StartTime: date(2), EndTime: date(10)}},
		Service:      ServiceStation,
	})
	require.NoError(t, err)
	require.Equal(t, 1, len(routes))
	assert.DeepEqual(t, []streams.StreamEpoch{{
		Stream:    hasli,
		StartTime: date(2),
		EndTime:   date(5).Add(-streams.CanonicalOffset),
	}}, routes[0].StreamEpochs)
}

func TestQueryRoutes_StationLevelHulls(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)

	require.NoError(t, s.EmergeStationEpoch(ctx, "CH", "HASLI", EpochUpsert{
		Start:      date(1),
		End:        date(3),
		Restricted: RestrictedOpen,
		Latitude:   46.75,
		Longitude:  8.15,
		Routes:     openRoute(ServiceDataselect, dataselectURL),
	}, date(20)))
	require.NoError(t, s.EmergeStationEpoch(ctx, "CH", "HASLI", EpochUpsert{
		Start:      date(4),
		End:        date(6),
		Restricted: RestrictedOpen,
		Latitude:   46.75,
		Longitude:  8.15,
		Routes:     openRoute(ServiceDataselect, dataselectURL),
	}, date(20)))

	routes, err := s.QueryRoutes(ctx, &RouteQuery{
		StreamEpochs: []streams.StreamEpoch{wildcardEpoch(date(1), date(10))},
		Service:      ServiceDataselect,
		Level:        LevelStation,
	})
	require.NoError(t, err)
	require.Equal(t, 1, len(routes))
	assert.DeepEqual(t, []streams.StreamEpoch{{
		Stream:    streams.Stream{Network: "CH", Station: "HASLI", Location: "*", Channel: "*"},
		StartTime: date(1),
		EndTime:   date(6),
	}}, routes[0].StreamEpochs, "station level emits the hull with wildcard sub-codes")
}

func TestQueryRoutes_NetworkLevelBBox(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)

	for _, net := range []string{"CH", "GR"} {
		url := dataselectURL
		if net == "GR" {
			url = remoteURL
		}
		require.NoError(t, s.EmergeNetworkEpoch(ctx, net, EpochUpsert{
			Start:      date(1),
			Restricted: RestrictedOpen,
			Routes:     openRoute(ServiceDataselect, url),
		}, date(20)))
	}
	require.NoError(t, s.EmergeStationEpoch(ctx, "CH", "HASLI", EpochUpsert{
		Start:      date(1),
		Restricted: RestrictedOpen,
		Latitude:   46.75,
		Longitude:  8.15,
	}, date(20)))
	require.NoError(t, s.EmergeStationEpoch(ctx, "GR", "BFO", EpochUpsert{
		Start:      date(1),
		Restricted: RestrictedOpen,
		Latitude:   48.33,
		Longitude:  8.33,
	}, date(20)))

	routes, err := s.QueryRoutes(ctx, &RouteQuery{
		StreamEpochs: []streams.StreamEpoch{wildcardEpoch(date(2), date(5))},
		Service:      ServiceDataselect,
		Level:        LevelNetwork,
	})
	require.NoError(t, err)
	require.Equal(t, 2, len(routes))

	routes, err = s.QueryRoutes(ctx, &RouteQuery{
		StreamEpochs: []streams.StreamEpoch{wildcardEpoch(date(2), date(5))},
		Service:      ServiceDataselect,
		Level:        LevelNetwork,
		BBox:         &BBox{MinLatitude: 46, MaxLatitude: 47, MinLongitude: 8, MaxLongitude: 9},
	})
	require.NoError(t, err)
	require.Equal(t, 1, len(routes), "networks without a station inside the box are dropped")
	assert.Equal(t, dataselectURL, routes[0].URL)
	assert.DeepEqual(t, []streams.StreamEpoch{{
		Stream:    streams.Stream{Network: "CH", Station: "*", Location: "*", Channel: "*"},
		StartTime: date(2),
		EndTime:   date(5),
	}}, routes[0].StreamEpochs)
}

func TestQueryRoutes_VirtualNetworkExpansion(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)
	a001a := streams.Stream{Network: "Z3", Station: "A001A", Channel: "HHZ"}
	a002a := streams.Stream{Network: "Z3", Station: "A002A", Channel: "HHZ"}
	hasli := streams.Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"}

	for _, stream := range []streams.Stream{a001a, a002a, hasli} {
		require.NoError(t, s.EmergeChannelEpoch(ctx, stream, EpochUpsert{
			Start:      date(1),
			Restricted: RestrictedOpen,
			Routes:     openRoute(ServiceDataselect, dataselectURL),
		}, date(20)))
	}
	require.NoError(t, s.EmergeVirtualEpochs(ctx, "_ALPARRAY", []VirtualEpoch{
		{Stream: a001a, Start: date(2), End: date(6)},
		{Stream: a002a, Start: date(3)},
	}, date(20)))

	q := &RouteQuery{
		StreamEpochs: []streams.StreamEpoch{{
			Stream:    streams.Stream{Network: "_ALPARRAY", Station: "*", Location: "*", Channel: "*"},
			StartTime: date(4),
			EndTime:   date(8),
		}},
		Service: ServiceDataselect,
	}
	routes, err := s.QueryRoutes(ctx, q)
	require.NoError(t, err)
	require.Equal(t, 1, len(routes))
	assert.DeepEqual(t, []streams.StreamEpoch{
		{Stream: a001a, StartTime: date(4), EndTime: date(6)},
		{Stream: a002a, StartTime: date(4), EndTime: date(8)},
	}, routes[0].StreamEpochs, "members are clipped to their membership window")

	// Station constraints narrow the expansion.
	narrowed, err := s.QueryRoutes(ctx, &RouteQuery{
		StreamEpochs: []streams.StreamEpoch{{
			Stream:    streams.Stream{Network: "_ALPARRAY", Station: "A001*", Location: "*", Channel: "*"},
			StartTime: date(4),
			EndTime:   date(8),
		}},
		Service: ServiceDataselect,
	})
	require.NoError(t, err)
	require.Equal(t, 1, len(narrowed))
	assert.DeepEqual(t, []streams.StreamEpoch{
		{Stream: a001a, StartTime: date(4), EndTime: date(6)},
	}, narrowed[0].StreamEpochs)

	// Served from the expansion cache the second time around.
	again, err := s.QueryRoutes(ctx, q)
	require.NoError(t, err)
	assert.DeepEqual(t, routes, again)
}

func TestQueryRoutes_MergesOverlappingQueryEpochs(t *testing.T) {
	ctx := context.Background()
	s := setupDB(t)
	hasli := streams.Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"}

	require.NoError(t, s.EmergeChannelEpoch(ctx, hasli, EpochUpsert{
		Start:      date(1),
		Restricted: RestrictedOpen,
		Routes:     openRoute(ServiceDataselect, dataselectURL),
	}, date(20)))

	routes, err := s.QueryRoutes(ctx, &RouteQuery{
		StreamEpochs: []streams.StreamEpoch{
			{Stream: hasli, StartTime: date(1), EndTime: date(3)},
			{Stream: hasli, StartTime: date(2), EndTime: date(5)},
		},
		Service: ServiceDataselect,
	})
	require.NoError(t, err)
	require.Equal(t, 1, len(routes))
	assert.DeepEqual(t, []streams.StreamEpoch{
		{Stream: hasli, StartTime: date(1), EndTime: date(5)},
	}, routes[0].StreamEpochs, "overlapping windows of one stream merge")
}
