// Package main defines the eidaws federator: a gateway that fans FDSN and
// EIDA web service requests out across the distributed EIDA endpoints and
// merges the responses into single standard conformant payloads.
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
	"github.com/eidaws/eidaws/federator/flags"
	"github.com/eidaws/eidaws/federator/node"
	"github.com/eidaws/eidaws/io/logs"
	"github.com/eidaws/eidaws/runtime/version"
)

var log = logrus.WithField("prefix", "main")

func startNode(cliCtx *cli.Context) error {
	fed, err := node.New(cliCtx)
	if err != nil {
		return err
	}
	fed.Start()
	return nil
}

var appFlags = []cli.Flag{
	cmd.VerbosityFlag,
	cmd.LogFileName,
	cmd.LogFormat,
	cmd.ConfigFileFlag,
	cmd.HostnameFlag,
	cmd.UnixPathFlag,
	cmd.MonitoringHostFlag,
	cmd.DisableMonitoringFlag,
	cmd.ClientMaxSizeFlag,
	cmd.NumForwardedFlag,
	cmd.ProxyNetlocFlag,
	flags.PortFlag,
	flags.MonitoringPortFlag,
	flags.CorsDomainFlag,
	flags.RoutingURLFlag,
	flags.RoutingConnLimitFlag,
	flags.RoutingTimeoutFlag,
	flags.EndpointConnLimitFlag,
	flags.EndpointConnLimitPerHostFlag,
	flags.EndpointTimeoutFlag,
	flags.EndpointTimeoutConnectFlag,
	flags.EndpointRequestMethodFlag,
	flags.PoolSizeFlag,
	flags.StreamingTimeoutFlag,
	flags.MaxStreamEpochDurationFlag,
	flags.MaxTotalStreamEpochDurationFlag,
	flags.SplittingFactorFlag,
	flags.FallbackMSeedRecordSizeFlag,
	flags.TempDirFlag,
	flags.BufferRolloverSizeFlag,
	flags.RedisURLFlag,
	flags.RedisPoolMinSizeFlag,
	flags.RedisPoolMaxSizeFlag,
	flags.RedisPoolTimeoutFlag,
	flags.RetryBudgetThresholdFlag,
	flags.RetryBudgetTTLFlag,
	flags.RetryBudgetWindowSizeFlag,
	flags.CacheTypeFlag,
	flags.CacheURLFlag,
	flags.CacheDefaultTimeoutFlag,
	flags.CacheCompressFlag,
	flags.ServeStaticFlag,
}

func init() {
	appFlags = cmd.WrapFlags(appFlags)
}

func main() {
	app := cli.App{}
	app.Name = "federator"
	app.Usage = "launches an EIDA federating gateway that serves the FDSN and EIDA web services across the distributed EIDA endpoints"
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
