package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// runFlags override config values, but only when given on the command line.
type runFlags struct {
	minWindow     time.Duration
	maxWindow     time.Duration
	minTimings    int
	killThreshold float64
	minThreshold  float64
	dryRun        bool
	logSource     string
	logFile       string
	role          string
}

func (f *runFlags) register(cmd *cobra.Command) {
	defaults := config.Default()
	flags := cmd.Flags()
	flags.DurationVar(&f.minWindow, "min-window", defaults.Settings.MinWindow, "minimum capture window")
	flags.DurationVar(&f.maxWindow, "max-window", defaults.Settings.MaxWindow, "maximum capture window")
	flags.IntVar(&f.minTimings, "min-timings", defaults.Settings.MinTimings, "samples a worker needs to join the pool")
	flags.Float64Var(&f.killThreshold, "kill-threshold", defaults.Settings.KillThreshold, "standard deviations above the mean that count as slow")
	flags.Float64Var(&f.minThreshold, "min-threshold", defaults.Settings.MinThreshold, "lowest latency in seconds that can count as slow")
	flags.BoolVarP(&f.dryRun, "dry-run", "n", false, "report slow workers without stopping any")
	flags.StringVar(&f.logSource, "log-source", defaults.Logs.Source, "log source: platform, redis or file")
	flags.StringVar(&f.logFile, "log-file", "", "log file for the file source (- for stdin)")
	flags.StringVar(&f.role, "role", defaults.Fleet.Role, "worker role to monitor")
}

func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("min-window") {
		cfg.Settings.MinWindow = f.minWindow
	}
	if flags.Changed("max-window") {
		cfg.Settings.MaxWindow = f.maxWindow
	}
	if flags.Changed("min-timings") {
		cfg.Settings.MinTimings = f.minTimings
	}
	if flags.Changed("kill-threshold") {
		cfg.Settings.KillThreshold = f.killThreshold
	}
	if flags.Changed("min-threshold") {
		cfg.Settings.MinThreshold = f.minThreshold
	}
	if flags.Changed("dry-run") {
		cfg.Settings.DryRun = f.dryRun
	}
	if flags.Changed("log-source") {
		cfg.Logs.Source = f.logSource
	}
	if flags.Changed("log-file") {
		cfg.Logs.File = f.logFile
		if !flags.Changed("log-source") {
			cfg.Logs.Source = config.SourceFile
		}
	}
	if flags.Changed("role") {
		cfg.Fleet.Role = f.role
	}
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one pass and exit with its status",
		Long: `Run captures one log window, classifies every active worker and stops at
most one slow worker. The exit status is 0 on success, 1 on failure and 2
when an operator should look at the fleet.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := runOnce(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if report.Status != models.StatusSuccess {
				return &ExitError{Status: report.Status, Err: report.Err}
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// runOnce performs a single pass with its own metrics registry and pushes
// the result when a Pushgateway is configured.
func runOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger) (models.Report, error) {
	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		return models.Report{}, err
	}

	audit, err := openAudit(cfg)
	if err != nil {
		return models.Report{}, err
	}
	if audit != nil {
		defer audit.Close()
	}

	runner, closeLogs, err := newRunner(ctx, cfg, logger, audit)
	defer closeLogs()
	if err != nil {
		return models.Report{}, err
	}

	report := runner.Run(ctx)

	if cfg.Metrics.PushgatewayURL != "" {
		// The run context may already be cancelled by a signal.
		if err := metrics.Push(context.Background(), cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, registry); err != nil {
			logger.Warn("failed to push metrics",
				slog.String("url", cfg.Metrics.PushgatewayURL),
				slog.Any("error", err))
		}
	}
	return report, nil
}
