package db

import (
	"context"
	"os"
	"path"
	"testing"
	"time"

	"github.com/eidaws/eidaws/streams"
	"github.com/eidaws/eidaws/testing/assert"
	"github.com/eidaws/eidaws/testing/require"
)

func setupDB(t testing.TB) *Store {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func date(day int) time.Time {
	return time.Date(2020, 1, day, 0, 0, 0, 0, time.UTC)
}

func TestNewStore_Locked(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, s.Close())
	}()

	_, err = NewStore(dir)
	assert.ErrorContains(t, "cannot obtain database lock", err)
}

func TestClearDB(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, s2.ClearDB())
	_, err = os.Stat(path.Join(dir, DatabaseFileName))
	assert.Equal(t, true, os.IsNotExist(err), "database file must be removed")

	// Clearing an already cleared store is a no-op.
	require.NoError(t, s2.ClearDB())
	require.NoError(t, s2.Close())
}

func TestReload_PicksUpReplacedFile(t *testing.T) {
	ctx := context.Background()
	hasli := streams.Stream{Network: "CH", Station: "HASLI", Channel: "LHZ"}
	bfo := streams.Stream{Network: "GR", Station: "BFO", Channel: "LHZ"}

	serving := setupDB(t)
	require.NoError(t, serving.EmergeChannelEpoch(ctx, hasli, EpochUpsert{
		Start:      date(1),
		Restricted: RestrictedOpen,
		Routes:     []RouteRef{{Service: ServiceDataselect, URL: "http://a.example.org/fdsnws/dataselect/1/query", Start: date(1)}},
	}, date(20)))

	changed, err := serving.Reload()
	require.NoError(t, err)
	assert.Equal(t, false, changed, "in-place writes must not reload")

	// Build a replacement store next door and rename it over the served one,
	// the way the harvester publishes a fresh harvest.
	buildDir := t.TempDir()
	build, err := NewStore(buildDir)
	require.NoError(t, err)
	require.NoError(t, build.EmergeChannelEpoch(ctx, bfo, EpochUpsert{
		Start:      date(1),
		Restricted: RestrictedOpen,
		Routes:     []RouteRef{{Service: ServiceDataselect, URL: "http://b.example.org/fdsnws/dataselect/1/query", Start: date(1)}},
	}, date(20)))
	require.NoError(t, build.Close())
	require.NoError(t, os.Rename(
		path.Join(buildDir, DatabaseFileName),
		path.Join(serving.DatabasePath(), DatabaseFileName),
	))

	changed, err = serving.Reload()
	require.NoError(t, err)
	require.Equal(t, true, changed)

	routes, err := serving.QueryRoutes(ctx, &RouteQuery{
		StreamEpochs: []streams.StreamEpoch{{Stream: streams.Stream{Network: "*", Station: "*", Location: "*", Channel: "*"}, StartTime: date(1), EndTime: date(10)}},
		Service:      ServiceDataselect,
	})
	require.NoError(t, err)
	require.Equal(t, 1, len(routes))
	assert.Equal(t, "http://b.example.org/fdsnws/dataselect/1/query", routes[0].URL)

	changed, err = serving.Reload()
	require.NoError(t, err)
	assert.Equal(t, false, changed, "reload must be idempotent")
}

func TestLastHarvest_RoundTrip(t *testing.T) {
	s := setupDB(t)

	got, err := s.LastHarvest()
	require.NoError(t, err)
	assert.Equal(t, true, got.IsZero(), "fresh store has no harvest time")

	require.NoError(t, s.SetLastHarvest(date(5)))
	got, err = s.LastHarvest()
	require.NoError(t, err)
	assert.Equal(t, true, got.Equal(date(5)))
}
