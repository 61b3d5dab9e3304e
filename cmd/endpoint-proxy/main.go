// Package main defines the eidaws endpoint proxy: a reverse proxy guarding a
// single fragile FDSN endpoint with a per client request budget.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/eidaws/eidaws/cmd"
	"github.com/eidaws/eidaws/fdsnws"
	"github.com/eidaws/eidaws/io/logs"
	"github.com/eidaws/eidaws/proxy"
	"github.com/eidaws/eidaws/runtime/version"
)

var log = logrus.WithField("prefix", "main")

var (
	httpPortFlag = &cli.IntFlag{
		Name:  "http-port",
		Usage: "Port the proxy listens on",
		Value: 8090,
	}
	upstreamURLFlag = &cli.StringFlag{
		Name:     "upstream-url",
		Usage:    "URL of the guarded FDSN endpoint requests are forwarded to",
		Required: true,
	}
	requestRateFlag = &cli.Float64Flag{
		Name:  "request-rate",
		Usage: "Sustained requests per second granted to each client",
		Value: proxy.DefaultRequestRate,
	}
	requestBurstFlag = &cli.IntFlag{
		Name:  "request-burst",
		Usage: "Requests a client may burst before the sustained rate applies",
		Value: proxy.DefaultRequestBurst,
	}
	maxUpstreamConnsFlag = &cli.IntFlag{
		Name:  "max-upstream-conns",
		Usage: "Maximum connections opened towards the upstream endpoint",
		Value: proxy.DefaultMaxUpstreamConns,
	}
)

var appFlags = []cli.Flag{
	cmd.VerbosityFlag,
	cmd.LogFileName,
	cmd.LogFormat,
	cmd.ConfigFileFlag,
	cmd.HostnameFlag,
	cmd.UnixPathFlag,
	cmd.NumForwardedFlag,
	cmd.ProxyNetlocFlag,
	httpPortFlag,
	upstreamURLFlag,
	requestRateFlag,
	requestBurstFlag,
	maxUpstreamConnsFlag,
}

func init() {
	appFlags = cmd.WrapFlags(appFlags)
}

func runProxy(cliCtx *cli.Context) error {
	verbosity := cliCtx.String(cmd.VerbosityFlag.Name)
	level, err := logrus.ParseLevel(verbosity)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	s, err := proxy.New(
		proxy.WithHost(cliCtx.String(cmd.HostnameFlag.Name)),
		proxy.WithPort(cliCtx.Int(httpPortFlag.Name)),
		proxy.WithUnixPath(cliCtx.String(cmd.UnixPathFlag.Name)),
		proxy.WithUpstream(cliCtx.String(upstreamURLFlag.Name)),
		proxy.WithRequestBudget(cliCtx.Float64(requestRateFlag.Name), int64(cliCtx.Int(requestBurstFlag.Name))),
		proxy.WithMaxUpstreamConns(cliCtx.Int(maxUpstreamConnsFlag.Name)),
		proxy.WithNumForwarded(cliCtx.Int(cmd.NumForwardedFlag.Name)),
		proxy.WithErrorWriter(fdsnws.ErrorWriter{
			Version:     version.SemanticVersion(),
			ProxyNetloc: cliCtx.String(cmd.ProxyNetlocFlag.Name),
		}),
	)
	if err != nil {
		return err
	}

	log.WithField("version", version.Version()).Info("Starting endpoint proxy")
	s.Start()
	if err := s.Status(); err != nil {
		return err
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)
	<-sigc
	log.Info("Got interrupt, shutting down")
	return s.Stop()
}

func main() {
	app := cli.App{}
	app.Name = "endpoint-proxy"
	app.Usage = "guards a fragile FDSN endpoint with a leaky bucket request budget"
	app.Version = version.Version()
	app.Flags = appFlags
	app.Action = runProxy
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
