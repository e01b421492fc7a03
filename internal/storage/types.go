package storage

import (
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// AuditStorage persists the outcome of each pass for later review. It never
// holds raw samples and is never consulted by detection.
type AuditStorage interface {
	// RecordRun persists a finished report and its verdicts.
	RecordRun(report models.Report) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(filter RunFilter) ([]RunRecord, error)

	// Verdicts returns the verdicts stored for one run.
	Verdicts(runID string) ([]models.Verdict, error)

	// Close closes the storage connection
	Close() error
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Role    string
	Outcome string
	Since   *time.Time
	Limit   int
}

// RunRecord is one stored pass.
type RunRecord struct {
	RunID              string
	Role               string
	Outcome            string
	Status             int
	DryRun             bool
	FleetSize          int
	Active             int
	TimedWorkers       int
	TotalSamples       int
	CaptureSeconds     float64
	EffectiveThreshold float64
	SlowWorkers        []string
	Stopped            string
	Message            string
	Error              string
	StartedAt          time.Time
	FinishedAt         time.Time
}
