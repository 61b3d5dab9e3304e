package harvest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eidaws/eidaws/streams"
	"github.com/eidaws/eidaws/testing/assert"
	"github.com/eidaws/eidaws/testing/require"
)

const inventoryDoc = `<?xml version="1.0" encoding="UTF-8"?>
<FDSNStationXML xmlns="http://www.fdsn.org/xml/station/1" schemaVersion="1.0">
  <Source>SED</Source>
  <Created>2020-06-01T00:00:00</Created>
  <Network code="CH" startDate="1980-01-01T00:00:00Z" restrictedStatus="open">
    <Description>National Seismic Networks of Switzerland</Description>
    <Station code="HASLI" startDate="1999-06-16T00:00:00Z">
      <Latitude>46.757</Latitude>
      <Longitude>8.155</Longitude>
      <Site><Name>Hasliberg BE</Name></Site>
      <Channel code="LHZ" locationCode="" startDate="1999-06-16T00:00:00Z" endDate="2005-01-01T00:00:00Z">
        <Latitude>46.757</Latitude>
        <Longitude>8.155</Longitude>
      </Channel>
      <Channel code="HHZ" locationCode="00" startDate="2005-01-01T00:00:00Z" restrictedStatus="closed"/>
    </Station>
  </Network>
  <Network code="Z3" startDate="2015-01-01T00:00:00Z" restrictedStatus="closed">
    <Station code="A001A" startDate="2015-09-01T00:00:00Z">
      <Latitude>47.1</Latitude>
      <Longitude>9.5</Longitude>
      <Channel code="HHZ" locationCode="" startDate="2015-09-01T00:00:00Z"/>
    </Station>
  </Network>
</FDSNStationXML>`

func TestParseInventory(t *testing.T) {
	inv, err := ParseInventory(strings.NewReader(inventoryDoc))
	require.NoError(t, err)
	require.Equal(t, 2, len(inv.Networks))

	ch := inv.Networks[0]
	assert.Equal(t, "CH", ch.Code)
	assert.Equal(t, "open", ch.Restricted)
	assert.Equal(t, "1980-01-01T00:00:00", streams.FormatTime(ch.Epoch.Start))
	assert.Equal(t, true, ch.Epoch.End.IsZero())

	require.Equal(t, 1, len(ch.Stations))
	hasli := ch.Stations[0]
	assert.Equal(t, "HASLI", hasli.Code)
	// No restrictedStatus of its own, the network's applies.
	assert.Equal(t, "open", hasli.Restricted)
	assert.Equal(t, 46.757, hasli.Latitude)
	assert.Equal(t, 8.155, hasli.Longitude)

	require.Equal(t, 2, len(hasli.Channels))
	lhz := hasli.Channels[0]
	assert.Equal(t, "LHZ", lhz.Code)
	assert.Equal(t, "", lhz.Location)
	assert.Equal(t, "open", lhz.Restricted)
	assert.Equal(t, "2005-01-01T00:00:00", streams.FormatTime(lhz.Epoch.End))
	hhz := hasli.Channels[1]
	assert.Equal(t, "closed", hhz.Restricted)
	// Channels without coordinates of their own take the station's.
	assert.Equal(t, 46.757, hhz.Latitude)
	assert.Equal(t, 8.155, hhz.Longitude)

	z3 := inv.Networks[1]
	assert.Equal(t, "closed", z3.Restricted)
	assert.Equal(t, "closed", z3.Stations[0].Restricted)
	assert.Equal(t, "closed", z3.Stations[0].Channels[0].Restricted)
}

func TestParseInventory_Invalid(t *testing.T) {
	_, err := ParseInventory(strings.NewReader("<plain/>"))
	assert.ErrorContains(t, "decoding station inventory failed", err)

	_, err = ParseInventory(strings.NewReader(
		`<FDSNStationXML><Network code="CH" startDate="sometime"/></FDSNStationXML>`))
	assert.ErrorContains(t, `invalid epoch of network "CH"`, err)
}

func TestFetchInventory(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(inventoryDoc))
	}))
	defer srv.Close()

	pattern := streams.Stream{Network: "CH", Station: "*", Location: "*", Channel: "LH?"}
	inv, err := fetchInventory(context.Background(), srv.Client(), srv.URL+"/fdsnws/station/1/query", pattern)
	require.NoError(t, err)
	assert.Equal(t, 2, len(inv.Networks))

	assert.StringContains(t, "network=CH", gotQuery)
	assert.StringContains(t, "channel=LH%3F", gotQuery)
	assert.StringContains(t, "level=channel", gotQuery)
}

func TestFetchInventory_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	inv, err := fetchInventory(context.Background(), srv.Client(), srv.URL, streams.Stream{Network: "XX", Station: "*", Location: "*", Channel: "*"})
	require.NoError(t, err)
	assert.Equal(t, 0, len(inv.Networks))
}

func TestFetchInventory_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := fetchInventory(context.Background(), srv.Client(), srv.URL, streams.Stream{Network: "CH", Station: "*", Location: "*", Channel: "*"})
	assert.ErrorContains(t, "responded with 503", err)
}
