package harvest

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/eidaws/eidaws/fdsnws"
	"github.com/eidaws/eidaws/io/file"
	"github.com/eidaws/eidaws/io/logs"
	"github.com/eidaws/eidaws/stationlite/db"
	"github.com/eidaws/eidaws/streams"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// stagingDirName is the directory the harvester builds the next store
// generation in before renaming it over the served one.
const stagingDirName = "stationlitedata-harvest"

// DefaultFetchWorkers bounds concurrent inventory fetches.
const DefaultFetchWorkers = 8

// Config configures one harvest run.
type Config struct {
	// ConfigURLs locate the routing configuration documents, either
	// file:// paths or http(s) URLs.
	ConfigURLs []string
	// DataDir is the base directory holding the routing store.
	DataDir string
	// Services restricts the services whose route declarations are
	// harvested. Empty harvests every federated service.
	Services []fdsnws.Service
	// StrictRestricted rejects route URLs whose method token contradicts a
	// channel's restricted status instead of rewriting them.
	StrictRestricted bool
	// NoRoutes skips route harvesting.
	NoRoutes bool
	// NoVNetworks skips virtual network harvesting.
	NoVNetworks bool
	// Truncate prunes rows last seen before the given time once
	// harvesting is done. Zero keeps everything.
	Truncate time.Time
	// PIDPath is the lock file preventing concurrent harvest runs. Empty
	// disables the lock.
	PIDPath string
	// Timeout bounds one configuration or inventory fetch.
	Timeout time.Duration
	// FetchWorkers bounds concurrent inventory fetches.
	FetchWorkers int
}

// Harvester populates the routing store from routing configuration
// documents and the station inventories their routes declare.
type Harvester struct {
	cfg   Config
	hc    *http.Client
	now   func() time.Time
	stats harvestStats
}

type harvestStats struct {
	networks int64
	stations int64
	channels int64
	vnets    int64
	skipped  int64
	rejected int64
}

// New returns a harvester for the given configuration.
func New(cfg Config) *Harvester {
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = DefaultFetchWorkers
	}
	if len(cfg.Services) == 0 {
		cfg.Services = []fdsnws.Service{
			fdsnws.ServiceDataselect,
			fdsnws.ServiceStation,
			fdsnws.ServiceWFCatalog,
			fdsnws.ServiceAvailability,
		}
	}
	return &Harvester{
		cfg: cfg,
		hc:  &http.Client{Timeout: cfg.Timeout},
		now: time.Now,
	}
}

// Run executes one harvest. The run stages a copy of the served store,
// applies every route and virtual network of the configured documents to it
// and publishes the staged store by renaming it over the served one. The
// served store stays untouched when any step fails.
func (h *Harvester) Run(ctx context.Context) error {
	if h.cfg.PIDPath != "" {
		if err := file.WritePIDFile(h.cfg.PIDPath); err != nil {
			return errors.Wrap(err, "taking the harvest lock failed")
		}
		defer func() {
			if err := file.RemovePIDFile(h.cfg.PIDPath); err != nil {
				log.WithError(err).Error("Could not remove pid file")
			}
		}()
	}

	started := h.now().UTC()

	cfg := &RoutingConfig{}
	for _, u := range h.cfg.ConfigURLs {
		log.WithField("url", logs.MaskCredentialsLogging(u)).Debug("Fetching routing configuration")
		doc, err := FetchRoutingConfig(ctx, h.hc, u)
		if err != nil {
			return err
		}
		cfg.Merge(doc)
	}
	log.WithFields(logrus.Fields{
		"documents": len(h.cfg.ConfigURLs),
		"routes":    len(cfg.Routes),
		"vnetworks": len(cfg.VirtualNetworks),
	}).Info("Parsed routing configuration")

	buildDir := filepath.Join(h.cfg.DataDir, stagingDirName)
	store, err := h.stageStore(buildDir)
	if err != nil {
		return err
	}
	if err := h.harvest(ctx, store, cfg, started); err != nil {
		if cerr := store.Close(); cerr != nil {
			log.WithError(cerr).Error("Could not close staging store")
		}
		return err
	}
	if err := store.Close(); err != nil {
		return errors.Wrap(err, "closing the staging store failed")
	}
	if err := h.publish(buildDir); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"networks":  atomic.LoadInt64(&h.stats.networks),
		"stations":  atomic.LoadInt64(&h.stats.stations),
		"channels":  atomic.LoadInt64(&h.stats.channels),
		"vnetworks": atomic.LoadInt64(&h.stats.vnets),
		"skipped":   atomic.LoadInt64(&h.stats.skipped),
		"rejected":  atomic.LoadInt64(&h.stats.rejected),
		"elapsed":   h.now().UTC().Sub(started),
	}).Info("Harvest completed")
	return nil
}

func (h *Harvester) harvest(ctx context.Context, store *db.Store, cfg *RoutingConfig, started time.Time) error {
	if !h.cfg.NoRoutes {
		if err := h.harvestRoutes(ctx, store, cfg.Routes, started); err != nil {
			return err
		}
	}
	if !h.cfg.NoVNetworks {
		if err := h.harvestVNetworks(ctx, store, cfg.VirtualNetworks, started); err != nil {
			return err
		}
	}
	if !h.cfg.Truncate.IsZero() {
		removed, err := store.Truncate(ctx, h.cfg.Truncate)
		if err != nil {
			return errors.Wrap(err, "truncating the staging store failed")
		}
		log.WithFields(logrus.Fields{
			"before":  streams.FormatTime(h.cfg.Truncate),
			"removed": removed,
		}).Info("Truncated staging store")
	}
	return store.SetLastHarvest(started)
}

// harvestRoutes fetches the inventory of every route and applies it to the
// staging store. Fetches run concurrently; an endpoint that fails to serve
// its inventory keeps its routes out of this generation instead of failing
// the whole run.
func (h *Harvester) harvestRoutes(ctx context.Context, store *db.Store, routes []Route, seen time.Time) error {
	g, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, h.cfg.FetchWorkers)
	for i := range routes {
		route := routes[i]
		stationURL, ok := stationEndpoint(route)
		if !ok {
			log.WithField("pattern", route.Pattern.String()).Warn("Skipping route without a station endpoint")
			atomic.AddInt64(&h.stats.skipped, 1)
			continue
		}
		endpoints := h.admissibleEndpoints(route)
		if len(endpoints) == 0 {
			continue
		}
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			defer func() { <-sem }()

			inv, err := fetchInventory(ctx, h.hc, stationURL, route.Pattern)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.WithError(err).WithField("pattern", route.Pattern.String()).Warn("Skipping route, inventory fetch failed")
				atomic.AddInt64(&h.stats.skipped, 1)
				return nil
			}
			return h.applyInventory(ctx, store, endpoints, inv, seen)
		})
	}
	return g.Wait()
}

// harvestVNetworks resolves the member patterns of every virtual network
// against the concrete channel epochs of the staging store and emerges the
// memberships. Resolution runs after route harvesting so freshly emerged
// channels participate.
func (h *Harvester) harvestVNetworks(ctx context.Context, store *db.Store, vnets []VirtualNetwork, seen time.Time) error {
	for _, vnet := range vnets {
		var members []db.VirtualEpoch
		for _, se := range vnet.Streams {
			epochs, err := store.MatchChannelEpochs(ctx, se.Stream, se.Epoch())
			if err != nil {
				return errors.Wrapf(err, "resolving virtual network %q failed", vnet.Code)
			}
			for _, ce := range epochs {
				members = append(members, db.VirtualEpoch{Stream: ce.Stream, Start: ce.StartTime, End: ce.EndTime})
			}
		}
		if len(members) == 0 {
			log.WithField("vnetwork", vnet.Code).Warn("Virtual network resolved to no channels")
			continue
		}
		if err := store.EmergeVirtualEpochs(ctx, vnet.Code, members, seen); err != nil {
			return err
		}
		atomic.AddInt64(&h.stats.vnets, 1)
	}
	return nil
}

// admissibleEndpoints filters a route's declarations down to the harvested
// ones: priority 1, an enabled service and a well-formed URL.
func (h *Harvester) admissibleEndpoints(route Route) []ServiceEndpoint {
	var out []ServiceEndpoint
	for _, ep := range route.Services {
		if ep.Priority != 1 || !h.serviceEnabled(ep.Service) {
			continue
		}
		if err := validateEndpointURL(ep.Service, ep.URL); err != nil {
			log.WithError(err).Warn("Skipping route declaration")
			atomic.AddInt64(&h.stats.rejected, 1)
			continue
		}
		out = append(out, ep)
	}
	return out
}

func (h *Harvester) serviceEnabled(svc fdsnws.Service) bool {
	for _, s := range h.cfg.Services {
		if s == svc {
			return true
		}
	}
	return false
}

// stationEndpoint returns the station URL the route's inventory is fetched
// from. The station declaration is consulted regardless of the harvested
// services; without one the route cannot be resolved into entities.
func stationEndpoint(route Route) (string, bool) {
	for _, ep := range route.Services {
		if ep.Service == fdsnws.ServiceStation && ep.Priority == 1 {
			return ep.URL, true
		}
	}
	return "", false
}

// stageStore prepares the staging directory. The served store file is
// copied in when it exists, so rows of previous generations keep their
// lastseen history, then the staging store is opened.
func (h *Harvester) stageStore(buildDir string) (*db.Store, error) {
	if err := os.RemoveAll(buildDir); err != nil {
		return nil, errors.Wrap(err, "clearing the staging directory failed")
	}
	if err := os.MkdirAll(buildDir, 0700); err != nil {
		return nil, err
	}
	liveFile := filepath.Join(h.cfg.DataDir, db.StoreDirName, db.DatabaseFileName)
	if file.FileExists(liveFile) {
		if err := file.CopyFile(liveFile, filepath.Join(buildDir, db.DatabaseFileName)); err != nil {
			return nil, errors.Wrap(err, "copying the served store failed")
		}
	}
	return db.NewStore(buildDir)
}

// publish renames the staged store over the served one. The rename stays
// within the data directory, so it is atomic, and the serving process picks
// up the replaced inode on its next reload tick.
func (h *Harvester) publish(buildDir string) error {
	liveDir := filepath.Join(h.cfg.DataDir, db.StoreDirName)
	if err := os.MkdirAll(liveDir, 0700); err != nil {
		return err
	}
	if err := os.Rename(filepath.Join(buildDir, db.DatabaseFileName), filepath.Join(liveDir, db.DatabaseFileName)); err != nil {
		return errors.Wrap(err, "publishing the staged store failed")
	}
	if err := os.RemoveAll(buildDir); err != nil {
		log.WithError(err).Warn("Could not remove staging directory")
	}
	log.WithField("path", filepath.Join(liveDir, db.DatabaseFileName)).Info("Published routing store")
	return nil
}
