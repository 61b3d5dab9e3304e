package cmd

import (
	"github.com/urfave/cli/v2"
)

// Flags is a struct to represent which process wide options the current
// service applies.
type Flags struct {
	// ClientMaxSize caps accepted POST body sizes in bytes.
	ClientMaxSize int64
	// NumForwarded is the number of trusted reverse proxy hops when
	// deriving client addresses from the X-Forwarded-For header.
	NumForwarded int
	// ProxyNetloc overrides the authority reported in FDSNWS error bodies.
	ProxyNetloc string
	// DisableMonitoring disables the monitoring service.
	DisableMonitoring bool
}

var sharedConfig *Flags

// Get retrieves the shared process configuration.
func Get() *Flags {
	if sharedConfig == nil {
		return &Flags{}
	}
	return sharedConfig
}

// Init sets the shared process configuration equal to the config that is
// passed in.
func Init(c *Flags) {
	sharedConfig = c
}

// InitWithReset sets the shared process configuration and returns a function
// that resets it to its previous value, for use in tests.
func InitWithReset(c *Flags) func() {
	prev := sharedConfig
	resetFunc := func() {
		sharedConfig = prev
	}
	Init(c)
	return resetFunc
}

// ConfigureService applies the shared flags of the current process.
func ConfigureService(ctx *cli.Context) {
	cfg := &Flags{}
	cfg.ClientMaxSize = int64(ctx.Int(ClientMaxSizeFlag.Name))
	cfg.NumForwarded = ctx.Int(NumForwardedFlag.Name)
	cfg.ProxyNetloc = ctx.String(ProxyNetlocFlag.Name)
	cfg.DisableMonitoring = ctx.Bool(DisableMonitoringFlag.Name)
	Init(cfg)
}
