// Package engine sequences one sentinel pass: precheck, capture, classify and act.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-sentinel/internal/capture"
	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/detector"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/remediation"
	"github.com/miradorstack/mirador-sentinel/internal/timings"
)

// Inventory lists the current workers of a role.
type Inventory interface {
	ListWorkers(ctx context.Context, role string) ([]models.WorkerSnapshot, error)
}

// Recorder persists finished reports.
type Recorder interface {
	RecordRun(report models.Report) error
}

// Options configures a Runner.
type Options struct {
	Settings   config.Settings
	Fleet      config.FleetConfig
	Grace      time.Duration
	BufferSize int
}

// Runner executes independent passes. It keeps no state between them.
type Runner struct {
	opts       Options
	logger     *slog.Logger
	inventory  Inventory
	logs       capture.LogSource
	remediator *remediation.Remediator
	recorder   Recorder

	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	pick     remediation.PickFunc
	newRunID func() string
	observe  func(models.Report)
}

// NewRunner constructs a Runner. recorder may be nil.
func NewRunner(
	logger *slog.Logger,
	opts Options,
	inventory Inventory,
	logs capture.LogSource,
	controller remediation.Controller,
	recorder Recorder,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		opts:       opts,
		logger:     logger,
		inventory:  inventory,
		logs:       logs,
		remediator: remediation.NewRemediator(controller, logger),
		recorder:   recorder,
		now:        time.Now,
		sleep:      sleepContext,
		pick:       remediation.RandomPick,
		newRunID:   uuid.NewString,
		observe:    metrics.ObserveRun,
	}
}

// Run performs one pass and always returns exactly one report. Panics are
// converted into the failed outcome.
func (r *Runner) Run(ctx context.Context) (report models.Report) {
	report = models.Report{
		RunID:     r.newRunID(),
		Role:      r.opts.Fleet.Role,
		StartedAt: r.now(),
		DryRun:    r.opts.Settings.DryRun,
	}
	logger := r.logger.With(slog.String("run_id", report.RunID), slog.String("role", report.Role))

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("run panicked", slog.Any("panic", rec), slog.String("stack", string(debug.Stack())))
			finish(&report, models.OutcomeFailed, "unexpected failure", fmt.Errorf("panic: %v", rec))
		}
		r.complete(ctx, logger, &report)
	}()

	r.execute(ctx, logger, &report)
	return report
}

func (r *Runner) execute(ctx context.Context, logger *slog.Logger, report *models.Report) {
	settings := r.opts.Settings
	fleet := r.opts.Fleet

	// precheck
	if err := settings.Validate(); err != nil {
		finish(report, models.OutcomeAborted, "invalid run settings", err)
		return
	}
	if r.inventory == nil || r.logs == nil {
		finish(report, models.OutcomeAborted, "runner is missing a collaborator", errors.New("inventory and log source are required"))
		return
	}

	formation, err := r.inventory.ListWorkers(ctx, fleet.Role)
	if err != nil {
		finish(report, models.OutcomeAborted, "fleet inventory failed", err)
		return
	}
	report.FleetSize = len(formation)
	if len(formation) < fleet.MinWorkers {
		finish(report, models.OutcomeAborted,
			fmt.Sprintf("not enough workers in this formation (%d < %d)", len(formation), fleet.MinWorkers), nil)
		return
	}

	logger.Info("run settings",
		slog.Duration("min_window", settings.MinWindow),
		slog.Duration("max_window", settings.MaxWindow),
		slog.Int("min_timings", settings.MinTimings),
		slog.Float64("kill_threshold", settings.KillThreshold),
		slog.Float64("min_threshold", settings.MinThreshold),
		slog.Bool("dry_run", settings.DryRun),
		slog.Int("formation_size", len(formation)))

	// capture
	store := timings.NewStore()
	pipeline := capture.NewPipeline(logger, r.logs, capture.Config{
		Role:       fleet.Role,
		MinWindow:  settings.MinWindow,
		MaxWindow:  settings.MaxWindow,
		MinTimings: settings.MinTimings,
		Grace:      r.opts.Grace,
		BufferSize: r.opts.BufferSize,
	})
	res, err := pipeline.Run(ctx, store)
	summary := res.Summary()
	report.Capture = &summary
	logger.Info("capture summary",
		slog.Int("timed_workers", summary.TimedWorkers),
		slog.Int("requests_timed", summary.TotalSamples),
		slog.Float64("elapsed", summary.Elapsed.Seconds()),
		slog.Int("lines", summary.Lines),
		slog.Bool("early_exit", summary.EarlyExit))
	if err != nil {
		finish(report, models.OutcomeFailed, "capture interrupted", err)
		return
	}

	if err := r.sleep(ctx, fleet.SettleDelay); err != nil {
		finish(report, models.OutcomeFailed, "interrupted before classification", err)
		return
	}

	// classify
	snapshots, err := r.inventory.ListWorkers(ctx, fleet.Role)
	if err != nil {
		finish(report, models.OutcomeAborted, "fleet inventory failed after capture", err)
		return
	}
	report.FleetSize = len(snapshots)
	if len(snapshots) == 0 {
		finish(report, models.OutcomeSkipped, "no workers in inventory after capture - skipping slow worker detection", nil)
		return
	}

	active := r.activeWorkers(logger, snapshots, summary.Elapsed)
	report.Active = len(active)
	total := float64(len(snapshots))
	if float64(len(active))/total < fleet.MinActiveRatio {
		finish(report, models.OutcomeSkipped,
			fmt.Sprintf("not enough workers are active (%d / %d) - skipping slow worker detection", len(active), len(snapshots)), nil)
		return
	}

	det := detector.New(settings.KillThreshold, settings.MinThreshold, settings.MinTimings)
	pool := det.Pool(store, active)
	if len(pool) == 0 || float64(len(pool))/total < fleet.MinCoverageRatio {
		finish(report, models.OutcomeCoverageGap,
			fmt.Sprintf("too few workers (%d / %d) reported enough timings for slow worker detection", len(pool), len(snapshots)), nil)
		return
	}

	thresholds, err := det.Thresholds(pool)
	if err != nil {
		finish(report, models.OutcomeFailed, "threshold computation failed", err)
		return
	}
	report.Thresholds = &thresholds
	logger.Info("threshold summary",
		slog.Int("workers_timed", thresholds.Pooled),
		slog.Float64("mean_response_time", thresholds.Mean),
		slog.Float64("stddev", thresholds.StdDev),
		slog.Float64("slow_threshold", thresholds.Raw),
		slog.Float64("effective_threshold", thresholds.Effective))

	verdicts := det.Classify(store, active, thresholds.Effective)
	for _, v := range verdicts {
		level := slog.LevelInfo
		if v.Slow {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "worker verdict",
			slog.String("worker", string(v.Worker)),
			slog.Int("requests_timed", v.Samples),
			slog.Float64("average_response_time", v.Average),
			slog.Bool("is_slow", v.Slow))
	}
	slow := detector.SlowWorkers(verdicts)
	report.Verdicts = verdicts
	report.Slow = slow
	logger.Info("slow worker count", slog.Int("slow_worker_count", len(slow)))

	// act
	decision := remediation.Decide(slow, settings.DryRun, r.pick)
	switch decision.Action {
	case remediation.ActionNone:
		finish(report, models.OutcomeHealthy, "no slow workers", nil)
	case remediation.ActionDryRun:
		finish(report, models.OutcomeDryRun,
			fmt.Sprintf("dry run: %d slow workers, none stopped", len(decision.Candidates)), nil)
	case remediation.ActionStop:
		if err := r.remediator.Apply(ctx, decision); err != nil {
			finish(report, models.OutcomeStopFailed,
				fmt.Sprintf("failed to stop worker: %s", decision.Target), err)
			return
		}
		report.Stopped = decision.Target
		finish(report, models.OutcomeStopped, fmt.Sprintf("stopped worker: %s", decision.Target), nil)
	}
}

// activeWorkers returns up workers whose uptime covers the capture window
// plus the configured minimum, in natural order.
func (r *Runner) activeWorkers(logger *slog.Logger, snapshots []models.WorkerSnapshot, captured time.Duration) []models.WorkerID {
	required := r.opts.Fleet.MinUptime + captured

	ids := make([]models.WorkerID, 0, len(snapshots))
	byID := make(map[models.WorkerID]models.WorkerSnapshot, len(snapshots))
	for _, s := range snapshots {
		ids = append(ids, s.ID)
		byID[s.ID] = s
	}
	models.SortWorkerIDs(ids)

	active := make([]models.WorkerID, 0, len(ids))
	for _, id := range ids {
		s := byID[id]
		switch {
		case !s.IsUp():
			logger.Debug("worker is not up", slog.String("worker", string(id)), slog.String("state", string(s.State)))
		case s.Uptime < required:
			logger.Debug("worker uptime too short",
				slog.String("worker", string(id)),
				slog.Duration("uptime", s.Uptime),
				slog.Duration("required", required))
		default:
			logger.Debug("worker is active", slog.String("worker", string(id)))
			active = append(active, id)
		}
	}
	return active
}

func (r *Runner) complete(ctx context.Context, logger *slog.Logger, report *models.Report) {
	report.FinishedAt = r.now()
	report.Status = report.Outcome.Status()

	attrs := []any{
		slog.String("outcome", string(report.Outcome)),
		slog.Int("status", int(report.Status)),
		slog.String("message", report.Message),
	}
	if report.Err != nil {
		attrs = append(attrs, slog.Any("error", report.Err))
	}
	if report.Stopped != "" {
		attrs = append(attrs, slog.String("stopped", string(report.Stopped)))
	}

	level := slog.LevelInfo
	switch report.Status {
	case models.StatusAlert:
		level = slog.LevelWarn
	case models.StatusFailure:
		level = slog.LevelError
	}
	logger.Log(ctx, level, "run outcome", attrs...)

	if r.observe != nil {
		r.observe(*report)
	}
	if r.recorder != nil {
		if err := r.recorder.RecordRun(*report); err != nil {
			logger.Warn("failed to record run", slog.Any("error", err))
		}
	}
}

func finish(report *models.Report, outcome models.Outcome, msg string, err error) {
	report.Outcome = outcome
	report.Message = msg
	report.Err = err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
