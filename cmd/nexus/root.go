package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/nexus/pkg/nexus/config"
	"github.com/randalmurphal/nexus/pkg/nexus/observability"
)

// globalFlags holds the persistent flags shared by every command.
type globalFlags struct {
	ConfigFile string
	LogLevel   string
	LogFormat  string
	EventLog   string
	Index      string
}

// app is the state built before any subcommand runs.
type app struct {
	flags  globalFlags
	cfg    config.Config
	logger *slog.Logger
	lookup func(string) (string, bool)
}

// Execute runs the root command with signal handling.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	a := &app{lookup: os.LookupEnv}

	root := &cobra.Command{
		Use:   "nexus",
		Short: "Event-sourced bus and DAG task orchestrator",
		Long: `nexus publishes events to an append-only JSONL log and runs DAG tasks
in reaction to them. Each task is triggered by event patterns, retried with
exponential backoff, and reports task.<id>.completed or task.<id>.failed.`,
		PersistentPreRunE: a.load,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.ConfigFile, "config", "", "Path to config file (.yaml, .yml, .json)")
	pf.StringVar(&a.flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	pf.StringVar(&a.flags.LogFormat, "log-format", "", "Log format (text|json)")
	pf.StringVar(&a.flags.EventLog, "event-log", "", "Path to the JSONL event log (default: events.jsonl)")
	pf.StringVar(&a.flags.Index, "index", "", "Path to a SQLite index mirroring the event log")

	root.AddCommand(
		newRunCmd(a),
		newEmitCmd(a),
		newDemoCmd(a),
		newReplayCmd(a),
		newValidateCmd(a),
		newDeadLettersCmd(a),
		newRedriveCmd(a),
	)
	return root
}

// load resolves configuration: file, then environment, then flags.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.flags.ConfigFile)
	if err != nil {
		return wrapError(ExitConfigError, "load config", err)
	}
	cfg.ApplyEnv(a.lookup)

	if a.flags.LogLevel != "" {
		cfg.Logging.Level = a.flags.LogLevel
	}
	if a.flags.LogFormat != "" {
		cfg.Logging.Format = a.flags.LogFormat
	}
	if a.flags.EventLog != "" {
		cfg.EventLog.Path = a.flags.EventLog
	}
	if a.flags.Index != "" {
		cfg.EventLog.Index = a.flags.Index
	}
	if err := cfg.Validate(); err != nil {
		return wrapError(ExitConfigError, "invalid settings", err)
	}

	logger, err := observability.NewLogger(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return wrapError(ExitConfigError, "configure logging", err)
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}
