// Command vksnap inspects, replays and stores engine snapshots.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/willibrandon/vksnap/pkg/config"
	"github.com/willibrandon/vksnap/pkg/logging"
	"github.com/willibrandon/vksnap/pkg/telemetry"
	"github.com/willibrandon/vksnap/pkg/version"
)

var (
	colorType  = color.New(color.FgHiCyan).SprintFunc()
	colorOp    = color.New(color.Bold).SprintFunc()
	colorWarn  = color.New(color.FgYellow).SprintFunc()
	colorError = color.New(color.FgHiRed).SprintFunc()
	colorOK    = color.New(color.FgHiGreen).SprintFunc()
	colorFaint = color.New(color.Faint).SprintfFunc()
)

// app is the state shared by every command of one invocation
type app struct {
	configPath string
	logLevel   string

	cfg      *config.Config
	log      *slog.Logger
	stderr   io.Writer
	shutdown telemetry.ShutdownFunc
}

func main() {
	if err := newRootCmd(os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, colorError("error:"), err)
		os.Exit(1)
	}
}

func newRootCmd(stderr io.Writer) *cobra.Command {
	a := &app{stderr: stderr}
	root := &cobra.Command{
		Use:   "vksnap",
		Short: "Inspect, replay and store graphics API snapshots",
		Long: `vksnap works with the snapshot streams written by the reconstruction
engine: it prints their handle graph, replays them against a simulated
driver and moves them in and out of the configured snapshot store.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.shutdown == nil {
				return nil
			}
			return a.shutdown(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to a YAML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(
		a.inspectCmd(),
		a.replayCmd(),
		a.pushCmd(),
		a.pullCmd(),
		a.listCmd(),
		a.deleteCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.GetVersionInfo())
			},
		},
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	logger, err := logging.New(cfg.Log, a.stderr)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	a.cfg, a.log, a.shutdown = cfg, logger, shutdown
	return nil
}
