// Package control implements Process Controls: stateless operations on
// top of the Repository that external observers use to inspect, kill, or
// restart executors and individual work units.
package control

import (
	"context"
	"fmt"
	"time"

	"github.com/batchctl/batchctl/internal/executor"
	"github.com/batchctl/batchctl/internal/model"
	"github.com/batchctl/batchctl/internal/store"
)

// Controls bundles the store needed to implement every process-control
// operation.
type Controls struct {
	store *store.Store
}

func New(st *store.Store) *Controls { return &Controls{store: st} }

// KillExecutor sends the hard-kill signal to the executor's process
// group (falling back to the bare process), flips the job to failed, and
// resets any stuck units so observers see a clean state. "Already gone"
// is tolerated as success, not an error.
func (c *Controls) KillExecutor(ctx context.Context, jobID string) error {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if pid, ok := job.Metadata.ExecutorPID(); ok && pid > 0 {
		killProcessGroupByPID(pid)
	}

	now := time.Now().UTC()
	job.Status = model.JobStatusFailed
	job.CompletedAt = &now
	if job.Metadata == nil {
		job.Metadata = model.Metadata{}
	}
	job.Metadata["killed_at"] = now.Format(time.RFC3339)
	job.Metadata["kill_reason"] = "killed by operator"
	if err := c.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist killed job: %w", err)
	}

	if _, err := c.store.ResetStuckUnits(ctx, jobID); err != nil {
		return fmt.Errorf("reset stuck units after kill: %w", err)
	}
	return nil
}

// KillWorkUnit kills the subprocess recorded on the unit's process_id. If
// the process was already dead, there is no in-flight worker left to
// record a terminal state, so this flips the unit to failed itself. If
// the process was still alive, killing it only clears process_id: the
// still-running pool.executeWorkUnit goroutine observes the resulting
// driver failure and records the terminal state (and, via the executor's
// onUnitFailed, the failed_units counter) through its own completion
// path. Double-handling both here and there would either double-count
// failed_units or silently resurrect the unit for retry.
func (c *Controls) KillWorkUnit(ctx context.Context, unitID string) error {
	unit, err := c.store.GetWorkUnit(ctx, unitID)
	if err != nil {
		return err
	}

	if unit.Status == model.WorkUnitStatusCompleted || unit.Status == model.WorkUnitStatusFailed {
		return nil
	}

	if unit.ProcessID != nil && processAlive(*unit.ProcessID) {
		killProcessGroupByPID(*unit.ProcessID)
		return c.store.SetWorkUnitProcessID(ctx, unit.UnitID, nil)
	}

	unit.ProcessID = nil
	unit.Status = model.WorkUnitStatusFailed
	msg := "killed by operator (process already dead)"
	unit.Error = &msg
	completedAt := time.Now().UTC()
	unit.CompletedAt = &completedAt

	if !unit.IsPostProcessing() {
		job, err := c.store.GetJob(ctx, unit.JobID)
		if err == nil {
			job.FailedUnits++
			_ = c.store.UpdateJob(ctx, job)
		}
	}
	return c.store.UpdateWorkUnit(ctx, unit)
}

// RestartWorkUnit is only legal from failed. It decrements the job's
// failed_units (floored at 0) and resets the unit to pending, clearing
// every per-attempt field except retry_count, which continues to
// accumulate across manual restarts.
func (c *Controls) RestartWorkUnit(ctx context.Context, unitID string) error {
	unit, err := c.store.GetWorkUnit(ctx, unitID)
	if err != nil {
		return err
	}
	if unit.Status != model.WorkUnitStatusFailed {
		return fmt.Errorf("%w: restart-work-unit requires status=failed, got %s", model.ErrInvalidTransition, unit.Status)
	}

	if unit.ProcessID != nil {
		killProcessGroupByPID(*unit.ProcessID)
	}

	retryCount := unit.RetryCount
	unit.ClearAssignment()
	unit.RetryCount = retryCount

	if !unit.IsPostProcessing() {
		job, err := c.store.GetJob(ctx, unit.JobID)
		if err != nil {
			return fmt.Errorf("load job for restart: %w", err)
		}
		if job.FailedUnits > 0 {
			job.FailedUnits--
		}
		if err := c.store.UpdateJob(ctx, job); err != nil {
			return fmt.Errorf("persist decremented failed_units: %w", err)
		}
	}

	return c.store.UpdateWorkUnit(ctx, unit)
}

// ResumeJob returns nil if no pending units remain. If an executor is
// already alive, it returns its pid. Otherwise it spawns a new executor.
func (c *Controls) ResumeJob(ctx context.Context, jobID, dbPath, logPath string) (*int, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	counts, err := c.store.CountUnitsByStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if counts[model.WorkUnitStatusPending] == 0 {
		return nil, nil
	}

	if pid, ok := job.Metadata.ExecutorPID(); ok && pid > 0 && processAlive(pid) {
		return &pid, nil
	}

	pid, err := executor.StartDetached(ctx, c.store, jobID, dbPath, logPath)
	if err != nil {
		return nil, fmt.Errorf("resume: spawn executor: %w", err)
	}
	return &pid, nil
}
