// Package main defines the eidaws harvester: the single shot process that
// populates the routing store from routing configuration documents and the
// FDSN station inventories their routes declare.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	joonix "github.com/joonix/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/eidaws/eidaws/cmd"
	"github.com/eidaws/eidaws/fdsnws"
	"github.com/eidaws/eidaws/io/logs"
	"github.com/eidaws/eidaws/runtime/version"
	"github.com/eidaws/eidaws/stationlite/harvest"
	"github.com/eidaws/eidaws/streams"
)

var log = logrus.WithField("prefix", "main")

var (
	routingConfigFlag = &cli.StringSliceFlag{
		Name:     "routing-config",
		Usage:    "URL of a routing configuration document, file:// or http(s)://. May be given multiple times.",
		Required: true,
	}
	serviceFlag = &cli.StringSliceFlag{
		Name:  "service",
		Usage: "Service to harvest routes for. May be given multiple times, defaults to every federated service.",
	}
	strictRestrictedFlag = &cli.BoolFlag{
		Name:  "strict-restricted",
		Usage: "Reject route URLs whose method token contradicts the channel's restricted status instead of rewriting them.",
	}
	noRoutesFlag = &cli.BoolFlag{
		Name:  "no-routes",
		Usage: "Skip harvesting routes.",
	}
	noVNetworksFlag = &cli.BoolFlag{
		Name:  "no-vnetworks",
		Usage: "Skip harvesting virtual networks.",
	}
	truncateFlag = &cli.StringFlag{
		Name:  "truncate",
		Usage: "Prune rows last seen before the given timestamp, e.g. 2020-06-01T00:00:00, once the harvest is done.",
	}
	pidFileFlag = &cli.StringFlag{
		Name:  "pid-file",
		Usage: "Lock file preventing concurrent harvest runs against the same store.",
		Value: filepath.Join(os.TempDir(), "eidaws-harvester.pid"),
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "HTTP timeout for configuration and inventory fetches.",
		Value: 3 * time.Minute,
	}
	fetchWorkersFlag = &cli.IntFlag{
		Name:  "fetch-workers",
		Usage: "Number of concurrent inventory fetches.",
		Value: harvest.DefaultFetchWorkers,
	}
)

var appFlags = []cli.Flag{
	cmd.VerbosityFlag,
	cmd.LogFileName,
	cmd.LogFormat,
	cmd.ConfigFileFlag,
	cmd.DataDirFlag,
	routingConfigFlag,
	serviceFlag,
	strictRestrictedFlag,
	noRoutesFlag,
	noVNetworksFlag,
	truncateFlag,
	pidFileFlag,
	timeoutFlag,
	fetchWorkersFlag,
}

func init() {
	appFlags = cmd.WrapFlags(appFlags)
}

func runHarvest(cliCtx *cli.Context) error {
	verbosity := cliCtx.String(cmd.VerbosityFlag.Name)
	level, err := logrus.ParseLevel(verbosity)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	services := make([]fdsnws.Service, 0, len(cliCtx.StringSlice(serviceFlag.Name)))
	for _, name := range cliCtx.StringSlice(serviceFlag.Name) {
		svc, err := fdsnws.ParseService(name)
		if err != nil {
			return err
		}
		services = append(services, svc)
	}

	var truncate time.Time
	if v := cliCtx.String(truncateFlag.Name); v != "" {
		if truncate, err = streams.ParseTime(v); err != nil {
			return errors.Wrapf(err, "invalid truncate timestamp %q", v)
		}
	}

	h := harvest.New(harvest.Config{
		ConfigURLs:       cliCtx.StringSlice(routingConfigFlag.Name),
		DataDir:          cliCtx.String(cmd.DataDirFlag.Name),
		Services:         services,
		StrictRestricted: cliCtx.Bool(strictRestrictedFlag.Name),
		NoRoutes:         cliCtx.Bool(noRoutesFlag.Name),
		NoVNetworks:      cliCtx.Bool(noVNetworksFlag.Name),
		Truncate:         truncate,
		PIDPath:          cliCtx.String(pidFileFlag.Name),
		Timeout:          cliCtx.Duration(timeoutFlag.Name),
		FetchWorkers:     cliCtx.Int(fetchWorkersFlag.Name),
	})

	ctx, cancel := context.WithCancel(cliCtx.Context)
	defer cancel()
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		select {
		case <-sigc:
			log.Info("Got interrupt, cancelling harvest")
			cancel()
		case <-ctx.Done():
		}
	}()

	log.WithField("version", version.Version()).Info("Starting harvest")
	return h.Run(ctx)
}

func main() {
	app := cli.App{}
	app.Name = "harvester"
	app.Usage = "populates the EIDA routing store from routing configuration documents and FDSN station inventories"
	app.Version = version.Version()
	app.Flags = appFlags
	app.Action = runHarvest
	app.Before = func(ctx *cli.Context) error {
		// Load any flags from file, if specified.
		if ctx.IsSet(cmd.ConfigFileFlag.Name) {
			if err := altsrc.InitInputSourceWithContext(
				appFlags,
				altsrc.NewYamlSourceFromFlagFunc(
					cmd.ConfigFileFlag.Name))(ctx); err != nil {
				return err
			}
		}

		format := ctx.String(cmd.LogFormat.Name)
		switch format {
		case "text":
			formatter := new(prefixed.TextFormatter)
			formatter.TimestampFormat = "2006-01-02 15:04:05"
			formatter.FullTimestamp = true
			// If persistent log files are written - we disable the log messages coloring because
			// the colors are ANSI codes and seen as Gibberish in the log files.
			formatter.DisableColors = ctx.String(cmd.LogFileName.Name) != ""
			logrus.SetFormatter(formatter)
		case "fluentd":
			logrus.SetFormatter(joonix.NewFormatter())
		case "json":
			logrus.SetFormatter(&logrus.JSONFormatter{})
		default:
			return fmt.Errorf("unknown log format %s", format)
		}

		logFileName := ctx.String(cmd.LogFileName.Name)
		if logFileName != "" {
			if err := logs.ConfigurePersistentLogging(logFileName); err != nil {
				log.WithError(err).Error("Failed to configuring logging to disk.")
			}
		}

		runtime.GOMAXPROCS(runtime.NumCPU())
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
