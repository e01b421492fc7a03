package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/storage"
)

// Store implements AuditStorage using SQLite
type Store struct {
	db *sql.DB
}

var _ storage.AuditStorage = (*Store)(nil)

// NewStore creates a new SQLite storage with the given database path
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// RecordRun persists a report and its verdicts in one transaction.
func (s *Store) RecordRun(report models.Report) error {
	slow := make([]string, 0, len(report.Slow))
	for _, id := range report.Slow {
		slow = append(slow, string(id))
	}
	slowJSON, err := json.Marshal(slow)
	if err != nil {
		return fmt.Errorf("failed to marshal slow workers: %w", err)
	}

	var timed, samples int
	var captureSeconds float64
	if report.Capture != nil {
		timed = report.Capture.TimedWorkers
		samples = report.Capture.TotalSamples
		captureSeconds = report.Capture.Elapsed.Seconds()
	}
	var effective float64
	if report.Thresholds != nil {
		effective = report.Thresholds.Effective
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO runs (
			run_id, role, outcome, status, dry_run, fleet_size, active, timed_workers,
			total_samples, capture_seconds, effective_threshold, slow_json, stopped,
			message, error, started_at, finished_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.Exec(query,
		report.RunID,
		report.Role,
		string(report.Outcome),
		int(report.Status),
		report.DryRun,
		report.FleetSize,
		report.Active,
		timed,
		samples,
		captureSeconds,
		effective,
		string(slowJSON),
		string(report.Stopped),
		report.Message,
		report.ErrorText(),
		report.StartedAt.UTC(),
		report.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store run: %w", err)
	}

	for _, v := range report.Verdicts {
		_, err := tx.Exec(
			"INSERT INTO verdicts (run_id, worker, samples, average, is_slow) VALUES (?, ?, ?, ?, ?)",
			report.RunID, string(v.Worker), v.Samples, v.Average, v.Slow,
		)
		if err != nil {
			return fmt.Errorf("failed to store verdict for %s: %w", v.Worker, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// ListRuns retrieves stored runs with optional filtering, newest first.
func (s *Store) ListRuns(filter storage.RunFilter) ([]storage.RunRecord, error) {
	query := `
		SELECT run_id, role, outcome, status, dry_run, fleet_size, active, timed_workers,
		       total_samples, capture_seconds, effective_threshold, slow_json, stopped,
		       message, error, started_at, finished_at
		FROM runs
	`

	var conditions []string
	var params []interface{}
	if filter.Role != "" {
		conditions = append(conditions, "role = ?")
		params = append(params, filter.Role)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		params = append(params, filter.Outcome)
	}
	if filter.Since != nil {
		conditions = append(conditions, "started_at >= ?")
		params = append(params, filter.Since.UTC())
	}

	where, params := buildWhereClause(conditions, params)
	query += where + " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		params = append(params, filter.Limit)
	}

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var records []storage.RunRecord
	for rows.Next() {
		var record storage.RunRecord
		var slowJSON string

		err := rows.Scan(
			&record.RunID,
			&record.Role,
			&record.Outcome,
			&record.Status,
			&record.DryRun,
			&record.FleetSize,
			&record.Active,
			&record.TimedWorkers,
			&record.TotalSamples,
			&record.CaptureSeconds,
			&record.EffectiveThreshold,
			&slowJSON,
			&record.Stopped,
			&record.Message,
			&record.Error,
			&record.StartedAt,
			&record.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal([]byte(slowJSON), &record.SlowWorkers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal slow workers: %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return records, nil
}

// Verdicts returns the verdicts of one run in insertion order.
func (s *Store) Verdicts(runID string) ([]models.Verdict, error) {
	rows, err := s.db.Query(
		"SELECT worker, samples, average, is_slow FROM verdicts WHERE run_id = ? ORDER BY id",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query verdicts: %w", err)
	}
	defer rows.Close()

	var verdicts []models.Verdict
	for rows.Next() {
		var v models.Verdict
		var worker string
		if err := rows.Scan(&worker, &v.Samples, &v.Average, &v.Slow); err != nil {
			return nil, fmt.Errorf("failed to scan verdict: %w", err)
		}
		v.Worker = models.WorkerID(worker)
		verdicts = append(verdicts, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return verdicts, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// buildWhereClause is a helper to build WHERE clauses dynamically
func buildWhereClause(conditions []string, params []interface{}) (string, []interface{}) {
	if len(conditions) == 0 {
		return "", params
	}
	return " WHERE " + strings.Join(conditions, " AND "), params
}
