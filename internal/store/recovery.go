package store

import (
	"context"
	"database/sql"

	"github.com/batchctl/batchctl/internal/model"
)

// ResetStuckUnits sets status back to pending and clears worker_id,
// assigned_at, started_at for every unit currently assigned or
// processing. Idempotent: running it twice in a row yields the same row
// set as running it once, since the second run finds nothing left in
// assigned/processing.
func (s *Store) ResetStuckUnits(ctx context.Context, jobID string) (int, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE work_units SET status = ?, worker_id = NULL, assigned_at = NULL, started_at = NULL
			WHERE job_id = ? AND status IN (?, ?)`,
			string(model.WorkUnitStatusPending), jobID,
			string(model.WorkUnitStatusAssigned), string(model.WorkUnitStatusProcessing),
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// CleanupStaleWorkers sets status=terminated for workers currently busy
// or idle. Idempotent for the same reason as ResetStuckUnits.
func (s *Store) CleanupStaleWorkers(ctx context.Context, jobID string) (int, error) {
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE workers SET status = ?
			WHERE job_id = ? AND status IN (?, ?)`,
			string(model.WorkerStatusTerminated), jobID,
			string(model.WorkerStatusBusy), string(model.WorkerStatusIdle),
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}
