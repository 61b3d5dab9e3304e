// Package main defines the eidaws stationlite service: the routing resolver
// answering eidaws-routing and eidaws-stationlite queries from a local
// routing store populated by the harvester.
package main

import (
	"fmt"
	"os"
	"runtime"

	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/eidaws/eidaws/cmd"
	"github.com/eidaws/eidaws/io/logs"
	"github.com/eidaws/eidaws/runtime/version"
	"github.com/eidaws/eidaws/stationlite/flags"
	"github.com/eidaws/eidaws/stationlite/node"
)

var log = logrus.WithField("prefix", "main")

func startNode(cliCtx *cli.Context) error {
	lite, err := node.New(cliCtx)
	if err != nil {
		return err
	}
	lite.Start()
	return nil
}

var appFlags = []cli.Flag{
	cmd.VerbosityFlag,
	cmd.LogFileName,
	cmd.LogFormat,
	cmd.ConfigFileFlag,
	cmd.DataDirFlag,
	cmd.ClearDB,
	cmd.ForceClearDB,
	cmd.HostnameFlag,
	cmd.UnixPathFlag,
	cmd.MonitoringHostFlag,
	cmd.DisableMonitoringFlag,
	cmd.ClientMaxSizeFlag,
	cmd.NumForwardedFlag,
	cmd.ProxyNetlocFlag,
	flags.PortFlag,
	flags.MonitoringPortFlag,
	flags.DBWatchIntervalFlag,
	flags.CorsDomainFlag,
	flags.ServeStaticFlag,
}

func init() {
	appFlags = cmd.WrapFlags(appFlags)
}

func main() {
	app := cli.App{}
	app.Name = "stationlite"
	app.Usage = "launches the EIDA routing resolver that answers routing and stationlite queries from a harvested routing store"
	app.Version = version.Version()
	app.Flags = appFlags
	app.Action = startNode
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
