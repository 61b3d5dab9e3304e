package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eidaws/eidaws/fdsnws"
	"github.com/eidaws/eidaws/runtime/version"
	"github.com/eidaws/eidaws/stationlite/db"
	"github.com/eidaws/eidaws/streams"
	"github.com/eidaws/eidaws/testing/assert"
	"github.com/eidaws/eidaws/testing/require"
)

const dataselectURL = "http://eida.example.org/fdsnws/dataselect/1/query"

func newTestService(t *testing.T) (*Service, *db.Store) {
	t.Helper()
	store, err := db.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	s, err := New(
		WithResolver(store),
		WithErrorWriter(fdsnws.ErrorWriter{Version: version.SemanticVersion()}),
	)
	require.NoError(t, err)
	return s, store
}

func seedChannel(t *testing.T, store *db.Store, stream streams.Stream, restricted string) {
	t.Helper()
	require.NoError(t, store.EmergeChannelEpoch(context.Background(), stream, db.EpochUpsert{
		Start:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Restricted: restricted,
		Latitude:   46.75,
		Longitude:  8.15,
		Routes: []db.RouteRef{{
			Service: db.ServiceDataselect,
			URL:     dataselectURL,
			Start:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		}},
	}, time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)))
}

func TestNew_RequiresResolver(t *testing.T) {
	_, err := New(WithPort(8002))
	assert.ErrorContains(t, "no resolver registered", err)
}

func TestRoutingEndpoint_GET(t *testing.T) {
	s, store := newTestService(t)
	seedChannel(t, store, streams.Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"}, db.RestrictedOpen)
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/eidaws/routing/1/query?net=CH&start=2020-01-02&end=2020-01-05")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, fdsnws.ContentTypeText, resp.Header.Get("Content-Type"))
	assert.Equal(t, dataselectURL+"\n"+
		"CH HASLI -- LHZ 2020-01-02T00:00:00 2020-01-05T00:00:00\n", string(body))
}

func TestRoutingEndpoint_POST(t *testing.T) {
	s, store := newTestService(t)
	seedChannel(t, store, streams.Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"}, db.RestrictedOpen)
	seedChannel(t, store, streams.Stream{Network: "GR", Station: "BFO", Channel: "LHZ"}, db.RestrictedOpen)
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	payload := "service=dataselect\n" +
		"CH HASLI -- LHZ 2020-01-02T00:00:00 2020-01-05T00:00:00\n" +
		"GR BFO -- LHZ 2020-01-03T00:00:00 2020-01-06T00:00:00\n"
	resp, err := http.Post(srv.URL+"/eidaws/routing/1/query", fdsnws.ContentTypeText, strings.NewReader(payload))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, dataselectURL+"\n"+
		"CH HASLI -- LHZ 2020-01-02T00:00:00 2020-01-05T00:00:00\n"+
		"GR BFO -- LHZ 2020-01-03T00:00:00 2020-01-06T00:00:00\n", string(body))
}

func TestRoutingEndpoint_NoData(t *testing.T) {
	s, _ := newTestService(t)
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/eidaws/routing/1/query?net=XX")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/eidaws/routing/1/query?net=XX&nodata=404")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.StringContains(t, "No data available for request.", string(body))
}

func TestRoutingEndpoint_InvalidParameters(t *testing.T) {
	s, _ := newTestService(t)
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/eidaws/routing/1/query?service=seedlink")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.StringContains(t, "invalid value for parameter service", string(body))

	resp, err = http.Get(srv.URL + "/eidaws/routing/1/query?minlatitude=10&maxlatitude=5")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.StringContains(t, "invalid spatial constraints", string(body))
}

func TestRoutingEndpoint_BBoxFiltering(t *testing.T) {
	s, store := newTestService(t)
	seedChannel(t, store, streams.Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"}, db.RestrictedOpen)
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	// Only a lower latitude bound given: the remaining bounds default to the
	// full coordinate range.
	resp, err := http.Get(srv.URL + "/eidaws/routing/1/query?net=CH&start=2020-01-02&end=2020-01-05&minlat=46")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/eidaws/routing/1/query?net=CH&start=2020-01-02&end=2020-01-05&minlat=47")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestStationLiteEndpoint(t *testing.T) {
	s, store := newTestService(t)
	seedChannel(t, store, streams.Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"}, db.RestrictedOpen)
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/eidaws/stationlite/1/query?net=CH&start=2020-01-02&end=2020-01-05")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, fdsnws.ContentTypeJSON, resp.Header.Get("Content-Type"))

	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, 1, len(got))
	assert.Equal(t, "CH", got[0]["network"])
	assert.Equal(t, "HASLI", got[0]["station"])
	assert.Equal(t, "", got[0]["location"])
	assert.Equal(t, "LHZ", got[0]["channel"])
	assert.Equal(t, "2020-01-02T00:00:00", got[0]["starttime"])
	assert.Equal(t, "2020-01-05T00:00:00", got[0]["endtime"])
	assert.Equal(t, "open", got[0]["restrictedStatus"])
}

func TestStationLiteEndpoint_OpenEndOmitted(t *testing.T) {
	s, store := newTestService(t)
	seedChannel(t, store, streams.Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"}, db.RestrictedOpen)
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	// No end time on the query: the open entity epoch stays open.
	resp, err := http.Get(srv.URL + "/eidaws/stationlite/1/query?net=CH&start=2020-01-02")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, 1, len(got))
	_, hasEnd := got[0]["endtime"]
	assert.Equal(t, false, hasEnd, "open ended epochs must omit their end time")
}

func TestStationLiteEndpoint_Levels(t *testing.T) {
	s, store := newTestService(t)
	seedChannel(t, store, streams.Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"}, db.RestrictedOpen)
	require.NoError(t, store.EmergeStationEpoch(context.Background(), "CH", "HASLI", db.EpochUpsert{
		Start:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Restricted: db.RestrictedOpen,
		Latitude:   46.75,
		Longitude:  8.15,
	}, time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)))
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/eidaws/stationlite/1/query?net=CH&start=2020-01-02&level=station")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &got))
	require.Equal(t, 1, len(got))
	assert.Equal(t, "HASLI", got[0]["station"])
	assert.Equal(t, "", got[0]["channel"])
}

func TestVersionEndpoint(t *testing.T) {
	s, _ := newTestService(t)
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	for _, path := range []string{"/eidaws/routing/1/version", "/eidaws/stationlite/1/version"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, version.SemanticVersion(), string(body))
	}
}

func TestFormatRouteBlocks(t *testing.T) {
	routes := []streams.Route{
		{
			URL: "http://a.example.org/fdsnws/dataselect/1/query",
			StreamEpochs: []streams.StreamEpoch{{
				Stream:    streams.Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"},
				StartTime: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
				EndTime:   time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
			}},
		},
		{
			URL: "http://b.example.org/fdsnws/dataselect/1/query",
			StreamEpochs: []streams.StreamEpoch{{
				Stream:    streams.Stream{Network: "GR", Station: "BFO", Channel: "LHZ"},
				StartTime: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			}},
		},
	}
	want := "http://a.example.org/fdsnws/dataselect/1/query\n" +
		"CH HASLI -- LHZ 2020-01-01T00:00:00 2020-01-02T00:00:00\n" +
		"\n" +
		"http://b.example.org/fdsnws/dataselect/1/query\n" +
		"GR BFO -- LHZ 2020-01-01T00:00:00\n"
	assert.Equal(t, want, formatRouteBlocks(routes))
}
