// This code was adapted from https://github.com/ethereum/go-ethereum/blob/master/cmd/geth/usage.go
package main

import (
	"io"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/eidaws/eidaws/cmd"
	"github.com/eidaws/eidaws/federator/flags"
)

var appHelpTemplate = `NAME:
   {{.App.Name}} - {{.App.Usage}}
USAGE:
   {{.App.HelpName}} [options]{{if .App.Commands}} command [command options]{{end}} {{if .App.ArgsUsage}}{{.App.ArgsUsage}}{{else}}[arguments...]{{end}}
   {{if .App.Version}}
AUTHOR:
   {{range .App.Authors}}{{ . }}{{end}}
   {{end}}{{if .App.Commands}}
GLOBAL OPTIONS:
   {{range .App.Commands}}{{join .Names ", "}}{{ "\t" }}{{.Usage}}
   {{end}}{{end}}{{if .FlagGroups}}
{{range .FlagGroups}}{{.Name}} OPTIONS:
   {{range .Flags}}{{.}}
   {{end}}
{{end}}{{end}}{{if .App.Copyright }}
COPYRIGHT:
   {{.App.Copyright}}
VERSION:
   {{.App.Version}}
   {{end}}{{if len .App.Authors}}
   {{end}}
`

type flagGroup struct {
	Name  string
	Flags []cli.Flag
}

var appHelpFlagGroups = []flagGroup{
	{
		Name: "cmd",
		Flags: []cli.Flag{
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
		},
	},
	{
		Name: "federator",
		Flags: []cli.Flag{
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
			flags.ServeStaticFlag,
		},
	},
	{
		Name: "retry budget",
		Flags: []cli.Flag{
			flags.RedisURLFlag,
			flags.RedisPoolMinSizeFlag,
			flags.RedisPoolMaxSizeFlag,
			flags.RedisPoolTimeoutFlag,
			flags.RetryBudgetThresholdFlag,
			flags.RetryBudgetTTLFlag,
			flags.RetryBudgetWindowSizeFlag,
		},
	},
	{
		Name: "cache",
		Flags: []cli.Flag{
			flags.CacheTypeFlag,
			flags.CacheURLFlag,
			flags.CacheDefaultTimeoutFlag,
			flags.CacheCompressFlag,
		},
	},
}

func init() {
	cli.AppHelpTemplate = appHelpTemplate

	type helpData struct {
		App        interface{}
		FlagGroups []flagGroup
	}

	originalHelpPrinter := cli.HelpPrinter
	cli.HelpPrinter = func(w io.Writer, tmpl string, data interface{}) {
		if tmpl == appHelpTemplate {
			for _, group := range appHelpFlagGroups {
				sort.Sort(cli.FlagsByName(group.Flags))
			}
			originalHelpPrinter(w, tmpl, helpData{data, appHelpFlagGroups})
		} else {
			originalHelpPrinter(w, tmpl, data)
		}
	}
}
