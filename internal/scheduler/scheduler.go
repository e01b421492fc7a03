// Package scheduler repeats independent sentinel passes on an interval.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// Pass runs one sentinel pass.
type Pass interface {
	Run(ctx context.Context) models.Report
}

// Scheduler runs passes strictly one after another. Readers only see the
// latest finished report.
type Scheduler struct {
	logger   *slog.Logger
	interval time.Duration

	mu        sync.RWMutex
	pass      Pass
	latest    *models.Report
	passes    int
	durations *utils.LatencyTracker
	running   bool
}

// New creates a scheduler running pass every interval.
func New(logger *slog.Logger, pass Pass, interval time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:    logger,
		interval:  interval,
		pass:      pass,
		durations: utils.NewLatencyTracker(128),
	}
}

// SetPass swaps the pass used from the next tick on, e.g. after a config reload.
func (s *Scheduler) SetPass(pass Pass) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pass = pass
}

// Latest returns the most recent report, if any pass has finished.
func (s *Scheduler) Latest() (models.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return models.Report{}, false
	}
	return *s.latest, true
}

// Stats summarises completed passes.
type Stats struct {
	Passes      int           `json:"passes"`
	DurationP95 time.Duration `json:"duration_p95"`
}

// Stats returns pass counters.
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	passes := s.passes
	s.mu.RUnlock()
	return Stats{Passes: passes, DurationP95: s.durations.Percentile(95)}
}

// Run executes a pass immediately and then on every tick until ctx ends.
// A tick that fires while a pass is running is dropped.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("watch interval must be positive, got %s", s.interval)
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info("watch started", slog.Duration("interval", s.interval))

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("watch stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.mu.RLock()
	pass := s.pass
	s.mu.RUnlock()
	if pass == nil {
		s.logger.Warn("no pass configured, skipping tick")
		return
	}

	start := time.Now()
	report := pass.Run(ctx)
	duration := time.Since(start)
	s.durations.Observe(duration)

	s.mu.Lock()
	s.latest = &report
	s.passes++
	count := s.passes
	s.mu.Unlock()

	if count%20 == 0 {
		s.logger.Info("pass duration",
			slog.Duration("p95", s.durations.Percentile(95)),
			slog.Int("passes", count))
	}
}
