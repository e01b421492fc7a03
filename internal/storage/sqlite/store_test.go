package sqlite

import (
	"os"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/storage"
)

func setupTestDB(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "sentinel-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpfile.Close()

	store, err := NewStore(tmpfile.Name())
	if err != nil {
		os.Remove(tmpfile.Name())
		t.Fatalf("failed to create store: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.Remove(tmpfile.Name())
	}

	return store, cleanup
}

func sampleReport(id string, started time.Time, outcome models.Outcome) models.Report {
	return models.Report{
		RunID:      id,
		Role:       "web",
		StartedAt:  started,
		FinishedAt: started.Add(65 * time.Second),
		FleetSize:  6,
		Active:     6,
		Capture:    &models.CaptureSummary{TimedWorkers: 6, TotalSamples: 240, Elapsed: 61 * time.Second},
		Thresholds: &models.Thresholds{Mean: 0.42, Effective: 0.94, Pooled: 6},
		Verdicts: []models.Verdict{
			{Worker: "web.1", Samples: 40, Average: 0.3},
			{Worker: "web.2", Samples: 40, Average: 1.0, Slow: true},
		},
		Slow:    []models.WorkerID{"web.2"},
		Stopped: "web.2",
		Outcome: outcome,
		Status:  outcome.Status(),
		Message: "stopped worker web.2",
	}
}

func TestStore_RecordAndListRuns(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := store.RecordRun(sampleReport("run-1", base, models.OutcomeHealthy)); err != nil {
		t.Fatalf("failed to record run: %v", err)
	}
	if err := store.RecordRun(sampleReport("run-2", base.Add(5*time.Minute), models.OutcomeStopped)); err != nil {
		t.Fatalf("failed to record run: %v", err)
	}

	runs, err := store.ListRuns(storage.RunFilter{Limit: 10})
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	latest := runs[0]
	if latest.RunID != "run-2" || latest.Outcome != "stopped" || latest.Status != 2 {
		t.Fatalf("unexpected latest run: %+v", latest)
	}
	if latest.Stopped != "web.2" || len(latest.SlowWorkers) != 1 || latest.SlowWorkers[0] != "web.2" {
		t.Fatalf("unexpected remediation fields: %+v", latest)
	}
	if latest.TotalSamples != 240 || latest.EffectiveThreshold != 0.94 {
		t.Fatalf("unexpected capture fields: %+v", latest)
	}
	if !latest.StartedAt.Equal(base.Add(5 * time.Minute)) {
		t.Fatalf("unexpected start time: %v", latest.StartedAt)
	}
}

func TestStore_ListRunsFilter(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, outcome := range []models.Outcome{models.OutcomeHealthy, models.OutcomeSkipped, models.OutcomeHealthy} {
		report := sampleReport(string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute), outcome)
		if err := store.RecordRun(report); err != nil {
			t.Fatalf("failed to record run: %v", err)
		}
	}

	runs, err := store.ListRuns(storage.RunFilter{Outcome: "healthy", Limit: 1})
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "c" {
		t.Fatalf("expected newest healthy run, got %+v", runs)
	}
}

func TestStore_Verdicts(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	if err := store.RecordRun(sampleReport("run-1", time.Now(), models.OutcomeStopped)); err != nil {
		t.Fatalf("failed to record run: %v", err)
	}

	verdicts, err := store.Verdicts("run-1")
	if err != nil {
		t.Fatalf("failed to load verdicts: %v", err)
	}
	if len(verdicts) != 2 || verdicts[1].Worker != "web.2" || !verdicts[1].Slow {
		t.Fatalf("unexpected verdicts: %+v", verdicts)
	}
}

func TestStore_DuplicateRunRejected(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	report := sampleReport("run-1", time.Now(), models.OutcomeHealthy)
	if err := store.RecordRun(report); err != nil {
		t.Fatalf("failed to record run: %v", err)
	}
	if err := store.RecordRun(report); err == nil {
		t.Fatalf("expected duplicate run id to fail")
	}
	verdicts, err := store.Verdicts("run-1")
	if err != nil {
		t.Fatalf("failed to load verdicts: %v", err)
	}
	if len(verdicts) != 2 {
		t.Fatalf("failed insert must not leave partial verdicts, got %d", len(verdicts))
	}
}
