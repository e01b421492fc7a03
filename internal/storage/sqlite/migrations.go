package sqlite

// Schema defines the SQLite database schema
const Schema = `
-- One row per sentinel pass
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	role TEXT NOT NULL,
	outcome TEXT NOT NULL,
	status INTEGER NOT NULL,
	dry_run BOOLEAN NOT NULL DEFAULT 0,
	fleet_size INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 0,
	timed_workers INTEGER NOT NULL DEFAULT 0,
	total_samples INTEGER NOT NULL DEFAULT 0,
	capture_seconds REAL NOT NULL DEFAULT 0,
	effective_threshold REAL NOT NULL DEFAULT 0,
	slow_json TEXT NOT NULL,
	stopped TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_role ON runs(role);
CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs(outcome);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);

-- Per-worker verdicts of each pass
CREATE TABLE IF NOT EXISTS verdicts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	worker TEXT NOT NULL,
	samples INTEGER NOT NULL,
	average REAL NOT NULL,
	is_slow BOOLEAN NOT NULL DEFAULT 0,
	FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_verdicts_run_id ON verdicts(run_id);
`
