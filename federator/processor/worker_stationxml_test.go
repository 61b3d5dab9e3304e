package processor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/eidaws/eidaws/streams"
	"github.com/eidaws/eidaws/testing/assert"
	"github.com/eidaws/eidaws/testing/require"
)

func stationXMLDoc(networks ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<FDSNStationXML xmlns="http://www.fdsn.org/xml/station/1" schemaVersion="1.1">` +
		`<Source>Test</Source><Created>2019-01-01T00:00:00</Created>` +
		strings.Join(networks, "") +
		`</FDSNStationXML>`
}

func testEndpointClient(stats statsKeeper) *endpointClient {
	return &endpointClient{
		hc:     &http.Client{},
		stats:  stats,
		params: url.Values{"level": []string{"station"}, "format": []string{"xml"}},
		now:    func() time.Time { return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func channelEpoch(net, sta, cha string) streams.StreamEpoch {
	return streams.StreamEpoch{
		Stream:    streams.Stream{Network: net, Station: sta, Channel: cha},
		StartTime: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2019, 1, 5, 0, 0, 0, 0, time.UTC),
	}
}

func TestStationXMLWorker_MergesStationsAcrossEndpoints(t *testing.T) {
	srv1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(stationXMLDoc(
			`<Network code="CH" startDate="1980-01-01T00:00:00">` +
				`<Description>Swiss network</Description>` +
				`<Station code="HASLI" startDate="1999-06-16T00:00:00"><Latitude>46.76</Latitude></Station>` +
				`</Network>`)))
	}))
	defer srv1.Close()
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(stationXMLDoc(
			`<Network code="CH" startDate="1980-01-01T00:00:00">` +
				`<Station code="DAVOX" startDate="2002-07-26T00:00:00"><Latitude>46.78</Latitude></Station>` +
				`</Network>`)))
	}))
	defer srv2.Close()

	w := &stationXMLWorker{client: testEndpointClient(&stubStats{}), level: "station"}
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec, "application/xml", nil, nil, nil, false)

	entries := []routeEntry{
		{url: srv1.URL, se: channelEpoch("CH", "HASLI", "LHZ")},
		{url: srv2.URL, se: channelEpoch("CH", "DAVOX", "LHZ")},
	}
	require.NoError(t, w.run(context.Background(), entries, rw))

	body := rec.Body.String()
	assert.Equal(t, 1, strings.Count(body, "<Network"))
	assert.Equal(t, 2, strings.Count(body, "<Station"))
	assert.StringContains(t, `code="HASLI"`, body)
	assert.StringContains(t, `code="DAVOX"`, body)
	assert.StringContains(t, "Swiss network", body)
	// The upstream namespace declaration is stripped; the envelope carries it.
	assert.Equal(t, false, strings.Contains(body, "xmlns"))
}

func TestStationXMLWorker_KeepsFirstNetworkAtLevelNetwork(t *testing.T) {
	doc := stationXMLDoc(`<Network code="CH" startDate="1980-01-01T00:00:00"><Description>first</Description></Network>`)
	docOther := stationXMLDoc(`<Network code="CH" startDate="1980-01-01T00:00:00"><Description>second</Description></Network>`)
	first := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if first {
			first = false
			_, _ = w.Write([]byte(doc))
			return
		}
		_, _ = w.Write([]byte(docOther))
	}))
	defer srv.Close()

	w := &stationXMLWorker{client: testEndpointClient(&stubStats{}), level: "network"}
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec, "application/xml", nil, nil, nil, false)

	entries := []routeEntry{
		{url: srv.URL, se: channelEpoch("CH", "HASLI", "LHZ")},
		{url: srv.URL, se: channelEpoch("CH", "DAVOX", "LHZ")},
	}
	require.NoError(t, w.run(context.Background(), entries, rw))

	body := rec.Body.String()
	assert.Equal(t, 1, strings.Count(body, "<Network"))
	assert.StringContains(t, "first", body)
	assert.Equal(t, false, strings.Contains(body, "second"))
}

func TestStationXMLWorker_AppendsChannelsUnderMatchingStation(t *testing.T) {
	network := func(channel string) string {
		return `<Network code="CH" startDate="1980-01-01T00:00:00">` +
			`<Station code="HASLI" startDate="1999-06-16T00:00:00">` + channel + `</Station>` +
			`</Network>`
	}
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			_, _ = w.Write([]byte(stationXMLDoc(network(`<Channel code="LHZ" locationCode=""><Depth>0</Depth></Channel>`))))
			return
		}
		_, _ = w.Write([]byte(stationXMLDoc(network(`<Channel code="LHN" locationCode=""><Depth>0</Depth></Channel>`))))
	}))
	defer srv.Close()

	w := &stationXMLWorker{client: testEndpointClient(&stubStats{}), level: "channel"}
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec, "application/xml", nil, nil, nil, false)

	entries := []routeEntry{
		{url: srv.URL, se: channelEpoch("CH", "HASLI", "LHZ")},
		{url: srv.URL, se: channelEpoch("CH", "HASLI", "LHN")},
	}
	require.NoError(t, w.run(context.Background(), entries, rw))

	body := rec.Body.String()
	assert.Equal(t, 1, strings.Count(body, "<Station"))
	assert.Equal(t, 2, strings.Count(body, "<Channel"))
	assert.StringContains(t, `code="LHZ"`, body)
	assert.StringContains(t, `code="LHN"`, body)
}

func TestStationXMLWorker_SeparateNetworkEpochsStaySeparate(t *testing.T) {
	doc := stationXMLDoc(
		`<Network code="CH" startDate="1980-01-01T00:00:00"><Description>current</Description></Network>`,
		`<Network code="CH" startDate="1960-01-01T00:00:00" endDate="1979-12-31T00:00:00"><Description>historic</Description></Network>`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(doc))
	}))
	defer srv.Close()

	w := &stationXMLWorker{client: testEndpointClient(&stubStats{}), level: "network"}
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec, "application/xml", nil, nil, nil, false)

	entries := []routeEntry{{url: srv.URL, se: channelEpoch("CH", "HASLI", "LHZ")}}
	require.NoError(t, w.run(context.Background(), entries, rw))

	assert.Equal(t, 2, strings.Count(rec.Body.String(), "<Network"))
}

func TestStationXMLWorker_SkipsFailingEndpoint(t *testing.T) {
	srvOK := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(stationXMLDoc(
			`<Network code="CH" startDate="1980-01-01T00:00:00">` +
				`<Station code="HASLI" startDate="1999-06-16T00:00:00"/>` +
				`</Network>`)))
	}))
	defer srvOK.Close()
	srvErr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srvErr.Close()

	stats := &stubStats{}
	w := &stationXMLWorker{client: testEndpointClient(stats), level: "station"}
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec, "application/xml", nil, nil, nil, false)

	entries := []routeEntry{
		{url: srvErr.URL, se: channelEpoch("CH", "DAVOX", "LHZ")},
		{url: srvOK.URL, se: channelEpoch("CH", "HASLI", "LHZ")},
	}
	require.NoError(t, w.run(context.Background(), entries, rw))

	body := rec.Body.String()
	assert.StringContains(t, `code="HASLI"`, body)
	assert.Equal(t, 1, strings.Count(body, "<Station"))
	assert.Equal(t, 1, stats.count(http.StatusInternalServerError))
}
