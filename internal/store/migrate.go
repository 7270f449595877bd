package store

import (
	"context"
	"fmt"
)

// baseSchema creates every table if absent. Column additions beyond this
// baseline are handled by migrateColumns so that old readers of an
// already-deployed database stay compatible — columns are never dropped.
const baseSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	worker_prompt_template TEXT NOT NULL DEFAULT '',
	unit_type TEXT NOT NULL DEFAULT '',
	total_units INTEGER NOT NULL DEFAULT 0,
	completed_units INTEGER NOT NULL DEFAULT 0,
	failed_units INTEGER NOT NULL DEFAULT 0,
	max_workers INTEGER NOT NULL DEFAULT 1,
	max_retries INTEGER NOT NULL DEFAULT 3,
	created_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT,
	test_unit_id TEXT,
	test_passed INTEGER NOT NULL DEFAULT 0,
	output_strategy TEXT,
	metadata_json TEXT NOT NULL DEFAULT '{}',
	post_processing_prompt TEXT,
	post_processing_unit_id TEXT,
	bypass_failures INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS work_units (
	unit_id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL REFERENCES jobs(job_id),
	unit_type TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	payload_json TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	assigned_at TEXT,
	started_at TEXT,
	completed_at TEXT,
	worker_id TEXT,
	result_json TEXT,
	error TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	execution_time_seconds REAL,
	output_files_json TEXT NOT NULL DEFAULT '[]',
	rendered_prompt TEXT,
	conversation_json TEXT,
	session_id TEXT,
	cost_usd REAL,
	process_id INTEGER
);

CREATE TABLE IF NOT EXISTS workers (
	worker_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	job_id TEXT,
	current_unit_id TEXT,
	process_id INTEGER,
	started_at TEXT NOT NULL,
	last_heartbeat TEXT,
	units_completed INTEGER NOT NULL DEFAULT 0,
	units_failed INTEGER NOT NULL DEFAULT 0,
	total_execution_time REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	source TEXT NOT NULL,
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	worker_id TEXT,
	unit_id TEXT,
	extra_json TEXT
);

CREATE INDEX IF NOT EXISTS idx_work_units_job_id ON work_units(job_id);
CREATE INDEX IF NOT EXISTS idx_work_units_status ON work_units(status);
CREATE INDEX IF NOT EXISTS idx_work_units_worker_id ON work_units(worker_id);
CREATE INDEX IF NOT EXISTS idx_workers_job_id ON workers(job_id);
CREATE INDEX IF NOT EXISTS idx_logs_job_id ON logs(job_id);
CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
`

// migrate applies baseSchema, then additively reconciles column sets
// against a hand-maintained list of expected columns per table — the
// additive-only migration strategy spec.md requires.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, baseSchema); err != nil {
		return fmt.Errorf("create base schema: %w", err)
	}

	expected := map[string][]columnDef{
		"jobs": {
			{"job_id", "TEXT"}, {"name", "TEXT"}, {"description", "TEXT"},
			{"status", "TEXT"}, {"worker_prompt_template", "TEXT"}, {"unit_type", "TEXT"},
			{"total_units", "INTEGER"}, {"completed_units", "INTEGER"}, {"failed_units", "INTEGER"},
			{"max_workers", "INTEGER"}, {"max_retries", "INTEGER"}, {"created_at", "TEXT"},
			{"started_at", "TEXT"}, {"completed_at", "TEXT"}, {"test_unit_id", "TEXT"},
			{"test_passed", "INTEGER"}, {"output_strategy", "TEXT"}, {"metadata_json", "TEXT"},
			{"post_processing_prompt", "TEXT"}, {"post_processing_unit_id", "TEXT"},
			{"bypass_failures", "INTEGER"},
		},
		"work_units": {
			{"unit_id", "TEXT"}, {"job_id", "TEXT"}, {"unit_type", "TEXT"}, {"status", "TEXT"},
			{"payload_json", "TEXT"}, {"created_at", "TEXT"}, {"assigned_at", "TEXT"},
			{"started_at", "TEXT"}, {"completed_at", "TEXT"}, {"worker_id", "TEXT"},
			{"result_json", "TEXT"}, {"error", "TEXT"}, {"retry_count", "INTEGER"},
			{"max_retries", "INTEGER"}, {"execution_time_seconds", "REAL"},
			{"output_files_json", "TEXT"}, {"rendered_prompt", "TEXT"},
			{"conversation_json", "TEXT"}, {"session_id", "TEXT"}, {"cost_usd", "REAL"},
			{"process_id", "INTEGER"},
		},
	}

	for table, cols := range expected {
		existing, err := s.columnSet(ctx, table)
		if err != nil {
			return err
		}
		for _, c := range cols {
			if existing[c.name] {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, c.name, c.typ)
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("add column %s.%s: %w", table, c.name, err)
			}
		}
	}
	return nil
}

type columnDef struct {
	name string
	typ  string
}

func (s *Store) columnSet(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("inspect %s columns: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt any
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
