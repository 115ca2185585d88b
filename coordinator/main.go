// Package main defines the coordinator server of the swarm: a privacy-first
// distributed coding assistant core that enrols agents, decomposes and
// dispatches tasks, meshes with peer coordinators and accounts for work on a
// hash-chained ledger.
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

	"github.com/enclavecode/swarm/coordinator/flags"
	"github.com/enclavecode/swarm/coordinator/node"
	"github.com/enclavecode/swarm/shared/cmd"
	"github.com/enclavecode/swarm/shared/debug"
	"github.com/enclavecode/swarm/shared/logutil"
	"github.com/enclavecode/swarm/shared/version"
)

var log = logrus.WithField("prefix", "main")

func startCoordinator(cliCtx *cli.Context) error {
	verbosity := cliCtx.String(cmd.VerbosityFlag.Name)
	level, err := logrus.ParseLevel(verbosity)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	coordinator, err := node.New(cliCtx)
	if err != nil {
		return err
	}
	coordinator.Start()
	return nil
}

var appFlags = []cli.Flag{
	cmd.VerbosityFlag,
	cmd.DataDirFlag,
	cmd.ClearDB,
	cmd.ForceClearDB,
	cmd.ConfigFileFlag,
	cmd.SwarmConfigFileFlag,
	cmd.MeshConfigFileFlag,
	cmd.LogFormat,
	cmd.LogFileName,
	cmd.MaxGoroutines,
	cmd.EnableTracingFlag,
	cmd.TracingProcessNameFlag,
	cmd.TracingEndpointFlag,
	cmd.TraceSampleFractionFlag,
	cmd.MonitoringHostFlag,
	cmd.DisableMonitoringFlag,
	cmd.EnableBackupWebhookFlag,
	cmd.BackupWebhookOutputDir,
	debug.PProfFlag,
	debug.PProfAddrFlag,
	debug.PProfPortFlag,
	debug.MemProfileRateFlag,
	debug.CPUProfileFlag,
	debug.TraceFlag,
	flags.RPCHost,
	flags.RPCPort,
	flags.MonitoringPortFlag,
	flags.CoordinatorIDFlag,
	flags.SelfURLFlag,
	flags.MeshTokenFlag,
	flags.PortalTokenFlag,
	flags.PortalPubkeyFlag,
	flags.AdminAllowlistFlag,
	flags.AllowedOriginsFlag,
	flags.BootstrapFileFlag,
	flags.RegistryFeedURLFlag,
	flags.InferenceEndpointFlag,
	flags.EscalateEndpointFlag,
	flags.WorkRewardSatsFlag,
}

func init() {
	appFlags = cmd.WrapFlags(appFlags)
}

func main() {
	app := cli.App{}
	app.Name = "coordinator"
	app.Usage = "launches a swarm coordinator that enrols agents, dispatches coding tasks and meshes with peer coordinators"
	app.Version = version.GetVersion()
	app.Flags = appFlags
	app.Action = startCoordinator
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
			if err := logutil.ConfigurePersistentLogging(logFileName, format); err != nil {
				log.WithError(err).Error("Failed to configuring logging to disk.")
			}
		}

		runtime.GOMAXPROCS(runtime.NumCPU())
		return debug.Setup(ctx)
	}

	app.After = func(ctx *cli.Context) error {
		debug.Exit(ctx)
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
