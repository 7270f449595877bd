// Package executor implements the Job Executor: the long-lived detached
// process that owns one job end-to-end — recovery, the dispatch loop,
// post-processing, the final-status decision, and signal handling.
package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/batchctl/batchctl/internal/driver"
	"github.com/batchctl/batchctl/internal/model"
	"github.com/batchctl/batchctl/internal/pool"
	"github.com/batchctl/batchctl/internal/store"
)

const (
	pendingPollInterval = 500 * time.Millisecond
	slotWaitInterval     = 1 * time.Second
	defaultMaxRetries    = 3
)

// Executor drives one job from "running" through to a terminal status.
type Executor struct {
	store  *store.Store
	driver *driver.Driver
	log    *logrus.Entry
}

// New constructs an Executor bound to a store and driver.
func New(st *store.Store, drv *driver.Driver, log *logrus.Entry) *Executor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Executor{store: st, driver: drv, log: log}
}

// StartDetached re-execs the current binary as "batchctl __run-executor"
// against jobID and dbPath, in its own session so it survives the
// parent's exit, and records its pid into job.metadata.executor_pid.
// This is the Go analogue of forking a detached OS process: the process
// group is its own, so signalling it later (kill-executor) cannot also
// hit the caller's own group.
func StartDetached(ctx context.Context, st *store.Store, jobID, dbPath, logPath string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("resolve self executable: %w", err)
	}

	cmd := exec.Command(exe, "__run-executor", "--job-id", jobID, "--db", dbPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if logPath != "" {
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			cmd.Stdout = logFile
			cmd.Stderr = logFile
		}
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start detached executor: %w", err)
	}
	pid := cmd.Process.Pid
	// Detach: we do not wait on this child. Release its resources on our
	// side so it doesn't become a zombie attached to our process table.
	_ = cmd.Process.Release()

	job, err := st.GetJob(ctx, jobID)
	if err != nil {
		return pid, fmt.Errorf("load job after spawning executor: %w", err)
	}
	if job.Metadata == nil {
		job.Metadata = model.Metadata{}
	}
	job.Metadata.SetExecutorPID(pid)
	if err := st.UpdateJob(ctx, job); err != nil {
		return pid, fmt.Errorf("record executor pid: %w", err)
	}
	return pid, nil
}

// Run is the executor's one-shot run loop: it lives as long as this
// process does and returns only once the job has reached a terminal
// status (or the process receives a graceful-stop/interrupt signal).
func (e *Executor) Run(ctx context.Context, jobID string) error {
	shouldStop := make(chan struct{})
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			close(shouldStop)
		case <-ctx.Done():
		}
	}()

	log := e.log.WithField("job_id", jobID)

	if err := e.recover(ctx, jobID, log); err != nil {
		log.WithError(err).Error("recovery failed")
		return e.crash(ctx, jobID, err)
	}

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		log.WithError(err).Error("job not found, exiting")
		return err
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusRunning
	job.StartedAt = &now
	if err := e.store.UpdateJob(ctx, job); err != nil {
		return e.crash(ctx, jobID, fmt.Errorf("enter running: %w", err))
	}

	if err := e.dispatchLoop(ctx, jobID, shouldStop, log); err != nil {
		return e.crash(ctx, jobID, err)
	}

	job, err = e.store.GetJob(ctx, jobID)
	if err != nil {
		return e.crash(ctx, jobID, fmt.Errorf("reload job after drain: %w", err))
	}

	if job.PostProcessingPrompt != "" && (job.AllSucceeded() || (job.BypassFailures && job.AllUnitsDone())) {
		if err := e.runPostProcessing(ctx, job, log); err != nil {
			log.WithError(err).Error("post-processing failed to run")
		}
	}

	return e.finalize(ctx, jobID, log)
}

// recover performs the idempotent crash-recovery protocol: cleanup stale
// workers and reset stuck units. It is always safe to run, whether or not
// a prior executor actually crashed.
func (e *Executor) recover(ctx context.Context, jobID string, log *logrus.Entry) error {
	if _, err := e.store.GetJob(ctx, jobID); err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	workersReset, err := e.store.CleanupStaleWorkers(ctx, jobID)
	if err != nil {
		return fmt.Errorf("cleanup stale workers: %w", err)
	}
	unitsReset, err := e.store.ResetStuckUnits(ctx, jobID)
	if err != nil {
		return fmt.Errorf("reset stuck units: %w", err)
	}
	log.WithFields(logrus.Fields{"workers_reset": workersReset, "units_reset": unitsReset}).Info("recovery complete")
	e.addLog(ctx, jobID, "info", fmt.Sprintf("recovery: reset %d stuck units, %d stale workers", unitsReset, workersReset), nil, nil)
	return nil
}

func (e *Executor) dispatchLoop(ctx context.Context, jobID string, shouldStop <-chan struct{}, log *logrus.Entry) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job for dispatch: %w", err)
	}

	wp := pool.New(jobID, e.store, e.driver, job.MaxWorkers,
		e.onUnitComplete(jobID),
		e.onUnitFailed(jobID),
		log)
	wp.Start()

	for {
		select {
		case <-shouldStop:
			wp.WaitForCompletion()
			return nil
		default:
		}

		job, err := e.store.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("reload job in dispatch loop: %w", err)
		}

		pending, err := e.store.GetPendingUnits(ctx, jobID, job.MaxWorkers)
		if err != nil {
			return fmt.Errorf("get pending units: %w", err)
		}

		if len(pending) == 0 {
			if wp.GetActiveWorkerCount() == 0 {
				return nil
			}
			time.Sleep(pendingPollInterval)
			continue
		}

		for _, unit := range pending {
			for {
				select {
				case <-shouldStop:
					wp.WaitForCompletion()
					return nil
				default:
				}
				if wp.WaitForAvailableSlot(ctx, slotWaitInterval) {
					break
				}
			}
			ok, err := wp.SubmitWorkUnit(ctx, unit, job.WorkerPromptTemplate)
			if err != nil {
				log.WithError(err).WithField("unit_id", unit.UnitID).Error("failed to submit unit")
				continue
			}
			if !ok {
				break // pool filled between our check and submit; re-poll pending next loop
			}
		}
	}
}

func (e *Executor) onUnitComplete(jobID string) pool.OnUnitComplete {
	return func(unit *model.WorkUnit, result driver.WorkerResult) {
		ctx := context.Background()
		if unit.IsPostProcessing() {
			return
		}
		job, err := e.store.GetJob(ctx, jobID)
		if err != nil {
			e.log.WithError(err).Error("on_unit_complete: reload job failed")
			return
		}
		job.CompletedUnits++
		if err := e.store.UpdateJob(ctx, job); err != nil {
			e.log.WithError(err).Error("on_unit_complete: persist job failed")
		}
		e.addLog(ctx, jobID, "info", fmt.Sprintf("unit %s completed", unit.UnitID), nil, &unit.UnitID)
	}
}

func (e *Executor) onUnitFailed(jobID string) pool.OnUnitFailed {
	return func(unit *model.WorkUnit, result driver.WorkerResult) {
		ctx := context.Background()

		if unit.CanRetry() && !unit.IsPostProcessing() {
			unit.RetryCount++
			retryCount := unit.RetryCount
			unit.ClearAssignment()
			unit.RetryCount = retryCount
			if err := e.store.UpdateWorkUnit(ctx, unit); err != nil {
				e.log.WithError(err).Error("on_unit_failed: persist retry failed")
			}
			e.addLog(ctx, jobID, "warn", fmt.Sprintf("unit %s failed, retrying (attempt %d)", unit.UnitID, unit.RetryCount), nil, &unit.UnitID)
			return
		}

		if unit.IsPostProcessing() {
			e.addLog(ctx, jobID, "error", fmt.Sprintf("post-processing unit %s failed permanently", unit.UnitID), nil, &unit.UnitID)
			return
		}

		job, err := e.store.GetJob(ctx, jobID)
		if err != nil {
			e.log.WithError(err).Error("on_unit_failed: reload job failed")
			return
		}
		job.FailedUnits++
		if err := e.store.UpdateJob(ctx, job); err != nil {
			e.log.WithError(err).Error("on_unit_failed: persist job failed")
		}
		e.addLog(ctx, jobID, "error", fmt.Sprintf("unit %s failed permanently", unit.UnitID), nil, &unit.UnitID)
	}
}

func (e *Executor) finalize(ctx context.Context, jobID string, log *logrus.Entry) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job for finalize: %w", err)
	}

	status, message := decideFinalStatus(ctx, e.store, job)
	now := time.Now().UTC()
	job.Status = status
	if status == model.JobStatusCompleted || status == model.JobStatusFailed {
		job.CompletedAt = &now
	}
	if err := e.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist final status: %w", err)
	}
	log.WithField("status", status).Info(message)
	e.addLog(ctx, jobID, "info", message, nil, nil)
	return nil
}

// decideFinalStatus implements the final-status rule table: post-
// processing failure always wins; otherwise all-succeeded (with no
// post-processing, or a succeeded one) or bypass-with-succeeded
// post-processing both mean completed; any permanent failures with all
// units done means failed; anything else means paused.
func decideFinalStatus(ctx context.Context, st *store.Store, job *model.Job) (model.JobStatus, string) {
	var ppStatus model.WorkUnitStatus
	if job.PostProcessingUnitID != "" {
		if ppUnit, err := st.GetWorkUnit(ctx, job.PostProcessingUnitID); err == nil {
			ppStatus = ppUnit.Status
		}
	}

	if job.PostProcessingUnitID != "" && ppStatus == model.WorkUnitStatusFailed {
		return model.JobStatusFailed, "post-processing step failed"
	}
	if job.AllSucceeded() && (job.PostProcessingUnitID == "" || ppStatus == model.WorkUnitStatusCompleted) {
		return model.JobStatusCompleted, "job completed successfully"
	}
	if job.BypassFailures && ppStatus == model.WorkUnitStatusCompleted {
		return model.JobStatusCompleted, "job completed (bypassed failures)"
	}
	if job.FailedUnits > 0 && job.AllUnitsDone() {
		return model.JobStatusFailed, fmt.Sprintf("job finished with %d failed units", job.FailedUnits)
	}
	pending := job.TotalUnits - job.CompletedUnits - job.FailedUnits
	return model.JobStatusPaused, fmt.Sprintf("job paused: %d pending", pending)
}

func (e *Executor) crash(ctx context.Context, jobID string, cause error) error {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		e.log.WithError(err).Error("crash handler: could not reload job")
		return cause
	}
	job.Status = model.JobStatusFailed
	if job.Metadata == nil {
		job.Metadata = model.Metadata{}
	}
	job.Metadata["executor_error"] = cause.Error()
	job.Metadata["executor_error_at"] = time.Now().UTC().Format(time.RFC3339)
	if uerr := e.store.UpdateJob(ctx, job); uerr != nil {
		e.log.WithError(uerr).Error("crash handler: could not persist failed status")
	}
	e.addLog(ctx, jobID, "error", fmt.Sprintf("executor crashed: %v", cause), nil, nil)
	return cause
}

func (e *Executor) addLog(ctx context.Context, jobID, level, message string, workerID, unitID *string) {
	entry := model.LogEntry{
		JobID:    jobID,
		Source:   "executor",
		Level:    level,
		Message:  message,
		WorkerID: workerID,
		UnitID:   unitID,
	}
	if err := e.store.AddLog(ctx, entry); err != nil {
		e.log.WithError(err).Warn("failed to persist log entry")
	}
}
