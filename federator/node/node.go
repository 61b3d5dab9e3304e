// Package node is the main process which handles the lifecycle of the
// runtime services in a federator process, gracefully shutting everything
// down upon close.
package node

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/eidaws/eidaws/cache"
	"github.com/eidaws/eidaws/cmd"
	"github.com/eidaws/eidaws/fdsnws"
	"github.com/eidaws/eidaws/federator/budget"
	"github.com/eidaws/eidaws/federator/flags"
	"github.com/eidaws/eidaws/federator/processor"
	"github.com/eidaws/eidaws/federator/routing"
	"github.com/eidaws/eidaws/federator/server"
	"github.com/eidaws/eidaws/monitoring/prometheus"
	"github.com/eidaws/eidaws/runtime"
	"github.com/eidaws/eidaws/runtime/version"
)

var log = logrus.WithField("prefix", "node")

// federatedServices are the web services exposed by the gateway.
var federatedServices = []fdsnws.Service{
	fdsnws.ServiceDataselect,
	fdsnws.ServiceStation,
	fdsnws.ServiceWFCatalog,
	fdsnws.ServiceAvailability,
}

// FederatorNode defines a federating gateway process: the HTTP server, the
// per service processors and their shared collaborators, all managed as
// runtime services.
type FederatorNode struct {
	cliCtx      *cli.Context
	services    *runtime.ServiceRegistry
	budgetStore *budget.RedisStore
	lock        sync.RWMutex
	stop        chan struct{} // Channel to wait for termination notifications.
}

// New creates a new federator node from cli flag values.
func New(cliCtx *cli.Context) (*FederatorNode, error) {
	verbosity := cliCtx.String(cmd.VerbosityFlag.Name)
	level, err := logrus.ParseLevel(verbosity)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(level)

	cmd.ConfigureService(cliCtx)
	flags.ConfigureGlobalFlags(cliCtx)

	registry := runtime.NewServiceRegistry()
	node := &FederatorNode{
		cliCtx:   cliCtx,
		services: registry,
		stop:     make(chan struct{}),
	}

	if !cmd.Get().DisableMonitoring {
		if err := node.registerPrometheusService(); err != nil {
			return nil, err
		}
	}
	if err := node.registerServerService(); err != nil {
		return nil, err
	}

	return node, nil
}

// Start every service attached to the federator node.
func (n *FederatorNode) Start() {
	n.lock.Lock()

	log.WithFields(logrus.Fields{
		"version": version.Version(),
	}).Info("Starting federator node")

	n.services.StartAll()

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
		panic("Panic closing the federator node")
	}()

	// Wait for stop channel to be closed.
	<-stop
}

// Close handles graceful shutdown of the system.
func (n *FederatorNode) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.services.StopAll()
	if n.budgetStore != nil {
		if err := n.budgetStore.Close(); err != nil {
			log.WithError(err).Error("Failed to close retry budget store")
		}
	}
	log.Info("Stopping federator node")

	close(n.stop)
}

func (n *FederatorNode) registerPrometheusService() error {
	service := prometheus.NewService(
		fmt.Sprintf("%s:%d", n.cliCtx.String(cmd.MonitoringHostFlag.Name), n.cliCtx.Int(flags.MonitoringPortFlag.Name)),
		n.services,
	)
	logrus.AddHook(prometheus.NewLogrusCollector())
	return n.services.RegisterService(service)
}

func (n *FederatorNode) registerServerService() error {
	gf := flags.Get()

	store, err := budget.NewRedisStore(budget.RedisConfig{
		URL:         n.cliCtx.String(flags.RedisURLFlag.Name),
		PoolMinSize: n.cliCtx.Int(flags.RedisPoolMinSizeFlag.Name),
		PoolMaxSize: n.cliCtx.Int(flags.RedisPoolMaxSizeFlag.Name),
		PoolTimeout: n.cliCtx.Duration(flags.RedisPoolTimeoutFlag.Name),
	})
	if err != nil {
		return errors.Wrap(err, "could not open retry budget store")
	}
	n.budgetStore = store
	stats := budget.NewStats(store, budget.Config{
		Threshold:  n.cliCtx.Float64(flags.RetryBudgetThresholdFlag.Name),
		TTL:        n.cliCtx.Duration(flags.RetryBudgetTTLFlag.Name),
		WindowSize: int64(n.cliCtx.Int(flags.RetryBudgetWindowSizeFlag.Name)),
	})

	responseCache, err := cache.New(cache.Config{
		Type:           n.cliCtx.String(flags.CacheTypeFlag.Name),
		URL:            n.cliCtx.String(flags.CacheURLFlag.Name),
		DefaultTimeout: n.cliCtx.Duration(flags.CacheDefaultTimeoutFlag.Name),
		Compress:       n.cliCtx.Bool(flags.CacheCompressFlag.Name),
	})
	if err != nil {
		return errors.Wrap(err, "could not initialize response cache")
	}

	resolver, err := routing.NewClient(gf.RoutingURL, stats, routing.Config{
		ConnLimit:              gf.RoutingConnLimit,
		Timeout:                gf.RoutingTimeout,
		MaxStreamEpochDuration: gf.MaxStreamEpochDuration,
		MaxTotalDuration:       gf.MaxTotalStreamEpochDuration,
	})
	if err != nil {
		return errors.Wrap(err, "could not initialize routing client")
	}

	ew := fdsnws.ErrorWriter{
		Version:     version.SemanticVersion(),
		ProxyNetloc: cmd.Get().ProxyNetloc,
	}
	procCfg := processor.Config{
		PoolSize:           gf.PoolSize,
		StreamingTimeout:   gf.StreamingTimeout,
		EndpointTimeout:    gf.EndpointTimeout,
		TimeoutConnect:     gf.EndpointTimeoutConnect,
		ConnLimit:          gf.EndpointConnLimitPerHost,
		ConnLimitTotal:     gf.EndpointConnLimit,
		DispatchPost:       gf.DispatchPost,
		UserAgent:          "EIDA-Federator/" + version.SemanticVersion(),
		SplittingFactor:    gf.SplittingFactor,
		FallbackRecordSize: gf.FallbackMSeedRecordSize,
		TempDir:            gf.TempDir,
		BufferRollover:     gf.BufferRolloverSize,
	}

	opts := []server.Option{
		server.WithHost(gf.Hostname),
		server.WithPort(gf.Port),
		server.WithUnixPath(gf.UnixPath),
		server.WithMaxBodySize(cmd.Get().ClientMaxSize),
		server.WithNumForwarded(cmd.Get().NumForwarded),
		server.WithStaticDir(gf.ServeStatic),
		server.WithAllowedOrigins(gf.CorsAllowedOrigins),
		server.WithErrorWriter(ew),
	}
	for _, svc := range federatedServices {
		p, err := processor.New(svc, processor.Deps{
			Resolver:    resolver,
			Stats:       stats,
			Cache:       responseCache,
			ErrorWriter: ew,
			Config:      procCfg,
		})
		if err != nil {
			return errors.Wrapf(err, "could not initialize %s processor", svc)
		}
		opts = append(opts, server.WithProcessor(svc, p))
	}

	srv, err := server.New(opts...)
	if err != nil {
		return errors.Wrap(err, "could not initialize HTTP service")
	}
	return n.services.RegisterService(srv)
}
