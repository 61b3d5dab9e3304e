package flags

import (
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/eidaws/eidaws/cmd"
)

// GlobalFlags specifies all the global flags for the stationlite service.
type GlobalFlags struct {
	Hostname           string
	Port               int
	UnixPath           string
	DataDir            string
	DBWatchInterval    time.Duration
	ServeStatic        string
	CorsAllowedOrigins []string
}

var globalConfig *GlobalFlags

// Get retrieves the global config.
func Get() *GlobalFlags {
	if globalConfig == nil {
		return &GlobalFlags{}
	}
	return globalConfig
}

// Init sets the global config equal to the config that is passed in.
func Init(c *GlobalFlags) {
	globalConfig = c
}

// ConfigureGlobalFlags initializes the global config
// based on the provided cli context.
func ConfigureGlobalFlags(ctx *cli.Context) {
	cfg := &GlobalFlags{}
	cfg.Hostname = ctx.String(cmd.HostnameFlag.Name)
	cfg.UnixPath = ctx.String(cmd.UnixPathFlag.Name)
	cfg.Port = ctx.Int(PortFlag.Name)
	cfg.DataDir = ctx.String(cmd.DataDirFlag.Name)
	cfg.DBWatchInterval = ctx.Duration(DBWatchIntervalFlag.Name)
	cfg.ServeStatic = ctx.String(ServeStaticFlag.Name)
	cfg.CorsAllowedOrigins = strings.Split(ctx.String(CorsDomainFlag.Name), ",")
	Init(cfg)
}
