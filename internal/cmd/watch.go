package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-sentinel/internal/api"
	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/scheduler"
)

// RunReporter receives every finished report.
type RunReporter interface {
	ReportRun(report models.Report)
}

// reportingPass forwards each report to a reporter after the pass finishes.
type reportingPass struct {
	pass     scheduler.Pass
	reporter RunReporter
}

func (p reportingPass) Run(ctx context.Context) models.Report {
	report := p.pass.Run(ctx)
	if p.reporter != nil {
		p.reporter.ReportRun(report)
	}
	return report
}

// closers collects cleanups for runners replaced on reload.
type closers struct {
	mu  sync.Mutex
	fns []func()
}

func (c *closers) add(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fns = append(c.fns, fn)
}

func (c *closers) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.fns) - 1; i >= 0; i-- {
		c.fns[i]()
	}
	c.fns = nil
}

func newWatchCmd(opts *globalOptions) *cobra.Command {
	flags := &runFlags{}
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run passes on an interval and serve health and metrics",
		Long: `Watch repeats independent passes on a fixed interval. Nothing carries over
between passes. While watching, a gRPC health service and an HTTP server
with /metrics, /healthz and the latest report are exposed, and the config
file is reloaded when it changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)
			if cmd.Flags().Changed("interval") {
				cfg.Watch.Interval = interval
			}
			return watch(cmd, opts, flags, cfg, logger)
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&interval, "interval", config.Default().Watch.Interval, "time between passes")
	return cmd
}

func watch(cmd *cobra.Command, opts *globalOptions, flags *runFlags, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	audit, err := openAudit(cfg)
	if err != nil {
		return err
	}
	if audit != nil {
		defer audit.Close()
	}

	cleanup := &closers{}
	defer cleanup.closeAll()

	runner, closeLogs, err := newRunner(ctx, cfg, logger, audit)
	cleanup.add(closeLogs)
	if err != nil {
		return err
	}

	server, err := api.NewServer(cfg.Watch)
	if err != nil {
		return err
	}

	sched := scheduler.New(logger, reportingPass{pass: runner, reporter: server}, cfg.Watch.Interval)

	configPath := opts.configPath
	if configPath == "" {
		configPath = os.Getenv("SENTINEL_CONFIG")
	}
	if configPath != "" {
		watcher, err := scheduler.NewConfigWatcher(configPath, logger, func(next *config.Config) {
			flags.apply(cmd, next)
			// The audit store and servers keep their startup settings.
			next.Audit = cfg.Audit
			runner, closeLogs, err := newRunner(ctx, next, logger, audit)
			cleanup.add(closeLogs)
			if err != nil {
				logger.Warn("config reload rejected, keeping previous runner", slog.Any("error", err))
				return
			}
			sched.SetPass(reportingPass{pass: runner, reporter: server})
		})
		if err != nil {
			logger.Warn("config hot reload disabled", slog.String("path", configPath), slog.Any("error", err))
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	httpServer := &http.Server{
		Addr:         cfg.Watch.HTTPAddress,
		Handler:      api.NewRouter(logger, sched, prometheus.DefaultGatherer),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		logger.Info("http server listening", slog.String("address", cfg.Watch.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", err))
			stop()
		}
	}()

	go func() {
		logger.Info("grpc server listening", slog.String("address", server.Address()))
		if err := server.Start(); err != nil {
			logger.Error("grpc server exited", slog.Any("error", err))
			stop()
		}
	}()

	runErr := sched.Run(ctx)
	stop()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
	defer cancel()
	server.Shutdown(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	return runErr
}
