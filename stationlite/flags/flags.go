// Package flags contains all configuration runtime flags for
// the stationlite service.
package flags

import (
	"time"

	"github.com/urfave/cli/v2"
)

var (
	// PortFlag defines the port the stationlite HTTP service listens on.
	PortFlag = &cli.IntFlag{
		Name:  "port",
		Usage: "Port the stationlite HTTP service listens on",
		Value: 8002,
	}
	// MonitoringPortFlag defines the http port used to serve prometheus metrics.
	MonitoringPortFlag = &cli.IntFlag{
		Name:  "monitoring-port",
		Usage: "Port used to listening and respond metrics for prometheus",
		Value: 8003,
	}
	// DBWatchIntervalFlag is the period the service checks the routing store
	// file for a harvester publication.
	DBWatchIntervalFlag = &cli.DurationFlag{
		Name:  "db-watch-interval",
		Usage: "Period between checks for a routing store replaced by the harvester",
		Value: 30 * time.Second,
	}
	// ServeStaticFlag serves application.wadl documents from this directory.
	ServeStaticFlag = &cli.StringFlag{
		Name:  "serve-static",
		Usage: "Directory with per service application.wadl documents, empty disables them",
	}
	// CorsDomainFlag is a list of origins accepted for cross origin requests.
	CorsDomainFlag = &cli.StringFlag{
		Name:  "corsdomain",
		Usage: "Comma separated list of domains from which to accept cross origin requests (browser enforced)",
		Value: "*",
	}
)
