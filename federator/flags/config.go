package flags

import (
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/eidaws/eidaws/cmd"
)

// GlobalFlags specifies all the global flags for the federator.
type GlobalFlags struct {
	Hostname                    string
	Port                        int
	UnixPath                    string
	RoutingURL                  string
	RoutingConnLimit            int
	RoutingTimeout              time.Duration
	EndpointConnLimit           int
	EndpointConnLimitPerHost    int
	EndpointTimeout             time.Duration
	EndpointTimeoutConnect      time.Duration
	DispatchPost                bool
	PoolSize                    int
	StreamingTimeout            time.Duration
	MaxStreamEpochDuration      time.Duration
	MaxTotalStreamEpochDuration time.Duration
	SplittingFactor             int
	FallbackMSeedRecordSize     int
	TempDir                     string
	BufferRolloverSize          int
	ServeStatic                 string
	CorsAllowedOrigins          []string
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
	cfg.RoutingURL = ctx.String(RoutingURLFlag.Name)
	cfg.RoutingConnLimit = ctx.Int(RoutingConnLimitFlag.Name)
	cfg.RoutingTimeout = ctx.Duration(RoutingTimeoutFlag.Name)
	cfg.EndpointConnLimit = ctx.Int(EndpointConnLimitFlag.Name)
	cfg.EndpointConnLimitPerHost = ctx.Int(EndpointConnLimitPerHostFlag.Name)
	cfg.EndpointTimeout = ctx.Duration(EndpointTimeoutFlag.Name)
	cfg.EndpointTimeoutConnect = ctx.Duration(EndpointTimeoutConnectFlag.Name)
	cfg.DispatchPost = ctx.String(EndpointRequestMethodFlag.Name) == "POST"
	cfg.PoolSize = ctx.Int(PoolSizeFlag.Name)
	cfg.StreamingTimeout = ctx.Duration(StreamingTimeoutFlag.Name)
	cfg.MaxStreamEpochDuration = ctx.Duration(MaxStreamEpochDurationFlag.Name)
	cfg.MaxTotalStreamEpochDuration = ctx.Duration(MaxTotalStreamEpochDurationFlag.Name)
	cfg.SplittingFactor = ctx.Int(SplittingFactorFlag.Name)
	cfg.FallbackMSeedRecordSize = ctx.Int(FallbackMSeedRecordSizeFlag.Name)
	cfg.TempDir = ctx.String(TempDirFlag.Name)
	cfg.BufferRolloverSize = ctx.Int(BufferRolloverSizeFlag.Name)
	cfg.ServeStatic = ctx.String(ServeStaticFlag.Name)
	cfg.CorsAllowedOrigins = strings.Split(ctx.String(CorsDomainFlag.Name), ",")
	Init(cfg)
}
