package models

import "time"

// Status is the process-level result of a run.
type Status int

const (
	StatusSuccess Status = 0
	StatusFailure Status = 1
	StatusAlert   Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusAlert:
		return "alert"
	default:
		return "unknown"
	}
}

// Outcome names the terminal state a run ended in.
type Outcome string

const (
	OutcomeAborted     Outcome = "aborted"
	OutcomeFailed      Outcome = "failed"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeCoverageGap Outcome = "coverage_gap"
	OutcomeHealthy     Outcome = "healthy"
	OutcomeDryRun      Outcome = "dry_run"
	OutcomeStopped     Outcome = "stopped"
	OutcomeStopFailed  Outcome = "stop_failed"
)

// Status maps an outcome onto its exit status.
func (o Outcome) Status() Status {
	switch o {
	case OutcomeSkipped, OutcomeHealthy, OutcomeDryRun:
		return StatusSuccess
	case OutcomeCoverageGap, OutcomeStopped, OutcomeStopFailed:
		return StatusAlert
	default:
		return StatusFailure
	}
}

// CaptureSummary describes what one capture window collected.
type CaptureSummary struct {
	TimedWorkers int           `json:"timed_workers"`
	TotalSamples int           `json:"total_samples"`
	Lines        int           `json:"lines"`
	Elapsed      time.Duration `json:"elapsed"`
	EarlyExit    bool          `json:"early_exit"`
}

// Thresholds holds the statistics the slowness decision was made against.
type Thresholds struct {
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"stddev"`
	Raw       float64 `json:"raw_threshold"`
	Effective float64 `json:"effective_threshold"`
	Pooled    int     `json:"workers_pooled"`
}

// Report is the full record of one pass. Exactly one is produced per run.
type Report struct {
	RunID      string          `json:"run_id"`
	Role       string          `json:"role"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	DryRun     bool            `json:"dry_run"`
	FleetSize  int             `json:"fleet_size"`
	Active     int             `json:"active"`
	Capture    *CaptureSummary `json:"capture,omitempty"`
	Thresholds *Thresholds     `json:"thresholds,omitempty"`
	Verdicts   []Verdict       `json:"verdicts,omitempty"`
	Slow       []WorkerID      `json:"slow,omitempty"`
	Stopped    WorkerID        `json:"stopped,omitempty"`
	Outcome    Outcome         `json:"outcome"`
	Status     Status          `json:"status"`
	Message    string          `json:"message"`
	Err        error           `json:"-"`
}

// ErrorText returns the error text, if any, for serialisation.
func (r Report) ErrorText() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
