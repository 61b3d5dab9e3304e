// Package cmd defines the command line flags shared by the eidaws binaries.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/eidaws/eidaws/cmd/flags"
)

var logFormatValue string

var (
	// VerbosityFlag defines the logrus configuration.
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info=default, warn, error, fatal, panic)",
		Value: "info",
	}
	// DataDirFlag defines a path on disk.
	DataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the databases",
		Value: DefaultDataDir(),
	}
	// ConfigFileFlag specifies the filepath to load flag values.
	ConfigFileFlag = &cli.StringFlag{
		Name:  "config-file",
		Usage: "The filepath to a yaml file with flag values",
	}
	// LogFormat specifies the log output encoding.
	LogFormat = flags.EnumValue{
		Name:        "log-format",
		Usage:       "Specify log formatting. Supports: text, json, fluentd",
		Enum:        []string{"text", "json", "fluentd"},
		Value:       "text",
		Destination: &logFormatValue,
	}.GenericFlag()
	// LogFileName specifies the log output file name.
	LogFileName = &cli.StringFlag{
		Name:  "log-file",
		Usage: "Specify log file name, relative or absolute",
	}
	// MonitoringHostFlag defines the host used to serve prometheus metrics.
	MonitoringHostFlag = &cli.StringFlag{
		Name:  "monitoring-host",
		Usage: "Host used for listening and responding metrics for prometheus",
		Value: "127.0.0.1",
	}
	// DisableMonitoringFlag defines a flag to disable the metrics collection.
	DisableMonitoringFlag = &cli.BoolFlag{
		Name:  "disable-monitoring",
		Usage: "Disable monitoring service.",
	}
	// HostnameFlag defines the address an HTTP service binds to.
	HostnameFlag = &cli.StringFlag{
		Name:  "hostname",
		Usage: "Host the HTTP service binds to. An empty host binds all interfaces",
		Value: "",
	}
	// UnixPathFlag makes the HTTP service listen on a unix domain socket
	// instead of TCP.
	UnixPathFlag = &cli.StringFlag{
		Name:  "unix-path",
		Usage: "Serve HTTP on this unix domain socket instead of TCP",
	}
	// ClientMaxSizeFlag caps accepted POST body sizes.
	ClientMaxSizeFlag = &cli.IntFlag{
		Name:  "client-max-size",
		Usage: "Maximum accepted POST body size in bytes",
		Value: 1 << 20,
	}
	// NumForwardedFlag is the number of trusted proxy hops when deriving
	// client addresses from the X-Forwarded-For header.
	NumForwardedFlag = &cli.IntFlag{
		Name:  "num-forwarded",
		Usage: "Number of trusted reverse proxy hops when deriving the client address",
		Value: 0,
	}
	// ProxyNetlocFlag overrides the authority reported in FDSNWS error
	// bodies when the service runs behind a reverse proxy.
	ProxyNetlocFlag = &cli.StringFlag{
		Name:  "proxy-netloc",
		Usage: "Authority (host[:port]) substituted into error bodies behind a reverse proxy",
	}
	// ClearDB tells the service to remove any previously stored data at the
	// data directory.
	ClearDB = &cli.BoolFlag{
		Name:  "clear-db",
		Usage: "Prompt for clearing any previously stored data at the data directory",
	}
	// ForceClearDB removes any previously stored data at the data directory
	// without asking.
	ForceClearDB = &cli.BoolFlag{
		Name:  "force-clear-db",
		Usage: "Clear any previously stored data at the data directory without confirmation",
	}
)
