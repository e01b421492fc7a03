package scheduler

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingPass struct {
	runs    atomic.Int32
	outcome models.Outcome
}

func (p *countingPass) Run(ctx context.Context) models.Report {
	n := p.runs.Add(1)
	return models.Report{RunID: string(rune('a' + n - 1)), Outcome: p.outcome, Status: p.outcome.Status()}
}

func TestSchedulerRunsRepeatedly(t *testing.T) {
	pass := &countingPass{outcome: models.OutcomeHealthy}
	s := New(discardLogger(), pass, 10*time.Millisecond)

	if _, ok := s.Latest(); ok {
		t.Fatalf("expected no report before the first pass")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pass.runs.Load() < 2 {
		t.Fatalf("expected at least 2 passes, got %d", pass.runs.Load())
	}
	latest, ok := s.Latest()
	if !ok || latest.Outcome != models.OutcomeHealthy {
		t.Fatalf("expected latest healthy report, got %+v", latest)
	}
	if s.Stats().Passes != int(pass.runs.Load()) {
		t.Fatalf("stats out of sync: %+v vs %d", s.Stats(), pass.runs.Load())
	}
}

func TestSchedulerSetPass(t *testing.T) {
	first := &countingPass{outcome: models.OutcomeHealthy}
	second := &countingPass{outcome: models.OutcomeSkipped}
	s := New(discardLogger(), first, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	time.Sleep(25 * time.Millisecond)
	s.SetPass(second)
	time.Sleep(40 * time.Millisecond)
	cancel()
	<-done

	if second.runs.Load() == 0 {
		t.Fatalf("expected swapped pass to run")
	}
	latest, _ := s.Latest()
	if latest.Outcome != models.OutcomeSkipped {
		t.Fatalf("expected latest report from swapped pass, got %s", latest.Outcome)
	}
}

func TestSchedulerRejectsZeroInterval(t *testing.T) {
	s := New(discardLogger(), &countingPass{}, 0)
	if err := s.Run(context.Background()); err == nil {
		t.Fatalf("expected error for zero interval")
	}
}

func TestConfigWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.yaml")
	if err := os.WriteFile(path, []byte("settings:\n  minTimings: 10\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	reloaded := make(chan *config.Config, 4)
	w, err := NewConfigWatcher(path, discardLogger(), func(cfg *config.Config) { reloaded <- cfg })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.debounce = 20 * time.Millisecond
	w.Start()
	defer w.Stop()

	if err := os.WriteFile(path, []byte("settings:\n  minTimings: 48\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Settings.MinTimings != 48 {
			t.Fatalf("expected reloaded min timings 48, got %d", cfg.Settings.MinTimings)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("config was not reloaded")
	}
}
