package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/goccy/go-json"

	"github.com/batchctl/batchctl/internal/model"
)

// AddLog appends an operational breadcrumb. Timestamp is supplied by the
// caller so tests can control ordering deterministically.
func (s *Store) AddLog(ctx context.Context, entry model.LogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = nowUTC()
	}
	var extraJSON sql.NullString
	if entry.Extra != nil {
		b, err := json.Marshal(entry.Extra)
		if err != nil {
			return err
		}
		extraJSON = sql.NullString{String: string(b), Valid: true}
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO logs (job_id, source, level, message, timestamp, worker_id, unit_id, extra_json)
			VALUES (?,?,?,?,?,?,?,?)`,
			entry.JobID, entry.Source, entry.Level, entry.Message, timeToStr(entry.Timestamp),
			nullableStrPtr(entry.WorkerID), nullableStrPtr(entry.UnitID), extraJSON,
		)
		return err
	})
}

// LogFilter restricts ListLogs.
type LogFilter struct {
	Source string
	Level  string
	Since  time.Time
	Limit  int
	Offset int
}

// ListLogs returns log entries for a job matching the filter, oldest
// first, with pagination.
func (s *Store) ListLogs(ctx context.Context, jobID string, f LogFilter) ([]model.LogEntry, error) {
	query := `SELECT id, job_id, source, level, message, timestamp, worker_id, unit_id, extra_json
		FROM logs WHERE job_id = ?`
	args := []any{jobID}

	if f.Source != "" {
		query += ` AND source = ?`
		args = append(args, f.Source)
	}
	if f.Level != "" {
		query += ` AND level = ?`
		args = append(args, f.Level)
	}
	if !f.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, timeToStr(f.Since))
	}
	query += ` ORDER BY timestamp ASC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		var ts string
		var workerID, unitID, extraJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.JobID, &e.Source, &e.Level, &e.Message, &ts, &workerID, &unitID, &extraJSON); err != nil {
			return nil, err
		}
		e.Timestamp = strToTime(ts)
		e.WorkerID = strPtrFromNull(workerID)
		e.UnitID = strPtrFromNull(unitID)
		if extraJSON.Valid && extraJSON.String != "" {
			if err := json.Unmarshal([]byte(extraJSON.String), &e.Extra); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
