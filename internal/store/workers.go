package store

import (
	"context"
	"database/sql"

	"github.com/batchctl/batchctl/internal/model"
)

// CreateWorker persists a new WorkerProcess row.
func (s *Store) CreateWorker(ctx context.Context, w *model.WorkerProcess) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workers (
				worker_id, status, job_id, current_unit_id, process_id,
				started_at, last_heartbeat, units_completed, units_failed, total_execution_time
			) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			w.WorkerID, string(w.Status), w.JobID, nullableStrPtr(w.CurrentUnitID), nullableInt(w.ProcessID),
			timeToStr(w.StartedAt), timePtrToStr(w.LastHeartbeat), w.UnitsCompleted, w.UnitsFailed, w.TotalExecutionTime,
		)
		return err
	})
}

// UpdateWorker overwrites every mutable field of a WorkerProcess row.
func (s *Store) UpdateWorker(ctx context.Context, w *model.WorkerProcess) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE workers SET
				status=?, current_unit_id=?, process_id=?, last_heartbeat=?,
				units_completed=?, units_failed=?, total_execution_time=?
			WHERE worker_id=?`,
			string(w.Status), nullableStrPtr(w.CurrentUnitID), nullableInt(w.ProcessID), timePtrToStr(w.LastHeartbeat),
			w.UnitsCompleted, w.UnitsFailed, w.TotalExecutionTime, w.WorkerID,
		)
		return err
	})
}

const workerSelect = `
	SELECT worker_id, status, job_id, current_unit_id, process_id, started_at,
		last_heartbeat, units_completed, units_failed, total_execution_time
	FROM workers`

func scanWorker(row scannable) (*model.WorkerProcess, error) {
	var w model.WorkerProcess
	var status, startedAt string
	var jobID, currentUnitID, lastHeartbeat sql.NullString
	var processID sql.NullInt64

	if err := row.Scan(
		&w.WorkerID, &status, &jobID, &currentUnitID, &processID, &startedAt,
		&lastHeartbeat, &w.UnitsCompleted, &w.UnitsFailed, &w.TotalExecutionTime,
	); err != nil {
		return nil, err
	}
	w.Status = model.WorkerStatus(status)
	w.JobID = jobID.String
	w.CurrentUnitID = strPtrFromNull(currentUnitID)
	w.ProcessID = intPtrFromNull(processID)
	w.StartedAt = strToTime(startedAt)
	w.LastHeartbeat = strToTimePtr(lastHeartbeat)
	return &w, nil
}

// ListWorkers returns every worker record for a job.
func (s *Store) ListWorkers(ctx context.Context, jobID string) ([]*model.WorkerProcess, error) {
	rows, err := s.db.QueryContext(ctx, workerSelect+` WHERE job_id = ? ORDER BY started_at ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.WorkerProcess
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
