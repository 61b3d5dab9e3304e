// Package node is the main process which handles the lifecycle of the
// runtime services in a stationlite process, gracefully shutting everything
// down upon close.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/eidaws/eidaws/async"
	"github.com/eidaws/eidaws/cmd"
	"github.com/eidaws/eidaws/fdsnws"
	"github.com/eidaws/eidaws/monitoring/prometheus"
	"github.com/eidaws/eidaws/runtime"
	"github.com/eidaws/eidaws/runtime/version"
	"github.com/eidaws/eidaws/stationlite/db"
	"github.com/eidaws/eidaws/stationlite/flags"
	"github.com/eidaws/eidaws/stationlite/server"
)

var log = logrus.WithField("prefix", "node")

// StationLiteNode defines a routing resolver process: the bolt backed routing
// store, the HTTP server answering routing and stationlite queries and the
// watcher picking up stores republished by the harvester.
type StationLiteNode struct {
	cliCtx   *cli.Context
	ctx      context.Context
	cancel   context.CancelFunc
	services *runtime.ServiceRegistry
	store    *db.Store
	lock     sync.RWMutex
	stop     chan struct{} // Channel to wait for termination notifications.
}

// New creates a new stationlite node from cli flag values.
func New(cliCtx *cli.Context) (*StationLiteNode, error) {
	verbosity := cliCtx.String(cmd.VerbosityFlag.Name)
	level, err := logrus.ParseLevel(verbosity)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(level)

	cmd.ConfigureService(cliCtx)
	flags.ConfigureGlobalFlags(cliCtx)

	ctx, cancel := context.WithCancel(context.Background())
	node := &StationLiteNode{
		cliCtx:   cliCtx,
		ctx:      ctx,
		cancel:   cancel,
		services: runtime.NewServiceRegistry(),
		stop:     make(chan struct{}),
	}

	if err := node.startDB(cliCtx); err != nil {
		cancel()
		return nil, err
	}
	if !cmd.Get().DisableMonitoring {
		if err := node.registerPrometheusService(); err != nil {
			cancel()
			return nil, err
		}
	}
	if err := node.registerServerService(); err != nil {
		cancel()
		return nil, err
	}

	return node, nil
}

// Start every service attached to the stationlite node.
func (n *StationLiteNode) Start() {
	n.lock.Lock()

	log.WithFields(logrus.Fields{
		"version": version.Version(),
	}).Info("Starting stationlite node")

	n.services.StartAll()
	if interval := flags.Get().DBWatchInterval; interval > 0 {
		async.RunEvery(n.ctx, interval, n.reloadStore)
	}

	stop := n.stop
	n.lock.Unlock()

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic.")
			}
		}
		panic("Panic closing the stationlite node")
	}()

	// Wait for stop channel to be closed.
	<-stop
}

// Close handles graceful shutdown of the system.
func (n *StationLiteNode) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.cancel()
	n.services.StopAll()
	if err := n.store.Close(); err != nil {
		log.WithError(err).Error("Failed to close routing store")
	}
	log.Info("Stopping stationlite node")

	close(n.stop)
}

// reloadStore swaps in a routing store the harvester renamed over the served
// one. The store itself detects in-place writes and leaves them alone.
func (n *StationLiteNode) reloadStore() {
	if _, err := n.store.Reload(); err != nil {
		log.WithError(err).Error("Failed to reload routing store")
	}
}

func (n *StationLiteNode) startDB(cliCtx *cli.Context) error {
	baseDir := cliCtx.String(cmd.DataDirFlag.Name)
	dbPath := filepath.Join(baseDir, db.StoreDirName)
	clearDB := cliCtx.Bool(cmd.ClearDB.Name)
	forceClearDB := cliCtx.Bool(cmd.ForceClearDB.Name)

	log.WithField("database-path", dbPath).Info("Checking DB")

	store, err := db.NewStore(dbPath)
	if err != nil {
		return err
	}
	clearDBConfirmed := false
	if clearDB && !forceClearDB {
		actionText := "This will delete the routing store in your data directory. " +
			"The harvester has to repopulate it before routes resolve again - do you want to proceed? (Y/N)"
		deniedText := "Database will not be deleted. No changes have been made."
		clearDBConfirmed, err = cmd.ConfirmAction(actionText, deniedText)
		if err != nil {
			return err
		}
	}
	if clearDBConfirmed || forceClearDB {
		log.Warning("Removing database")
		if err := store.Close(); err != nil {
			return errors.Wrap(err, "could not close db prior to clearing")
		}
		if err := store.ClearDB(); err != nil {
			return errors.Wrap(err, "could not clear database")
		}
		store, err = db.NewStore(dbPath)
		if err != nil {
			return errors.Wrap(err, "could not create new database")
		}
	}

	n.store = store
	return nil
}

func (n *StationLiteNode) registerPrometheusService() error {
	service := prometheus.NewService(
		fmt.Sprintf("%s:%d", n.cliCtx.String(cmd.MonitoringHostFlag.Name), n.cliCtx.Int(flags.MonitoringPortFlag.Name)),
		n.services,
	)
	logrus.AddHook(prometheus.NewLogrusCollector())
	return n.services.RegisterService(service)
}

func (n *StationLiteNode) registerServerService() error {
	gf := flags.Get()

	srv, err := server.New(
		server.WithHost(gf.Hostname),
		server.WithPort(gf.Port),
		server.WithUnixPath(gf.UnixPath),
		server.WithMaxBodySize(cmd.Get().ClientMaxSize),
		server.WithNumForwarded(cmd.Get().NumForwarded),
		server.WithStaticDir(gf.ServeStatic),
		server.WithAllowedOrigins(gf.CorsAllowedOrigins),
		server.WithErrorWriter(fdsnws.ErrorWriter{
			Version:     version.SemanticVersion(),
			ProxyNetloc: cmd.Get().ProxyNetloc,
		}),
		server.WithResolver(n.store),
	)
	if err != nil {
		return errors.Wrap(err, "could not initialize HTTP service")
	}
	return n.services.RegisterService(srv)
}
