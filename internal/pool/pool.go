// Package pool implements the Worker Pool: bounded concurrent execution
// of work units inside one job, translating driver results into
// unit/worker state updates and firing completion/failure callbacks.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/batchctl/batchctl/internal/driver"
	"github.com/batchctl/batchctl/internal/model"
	"github.com/batchctl/batchctl/internal/store"
)

// OnUnitComplete is called when a unit finishes successfully.
type OnUnitComplete func(unit *model.WorkUnit, result driver.WorkerResult)

// OnUnitFailed is called when a unit finishes unsuccessfully (including
// an unexpected crash inside the worker body).
type OnUnitFailed func(unit *model.WorkUnit, result driver.WorkerResult)

// Pool is a bounded set of logical workers operating on one job.
type Pool struct {
	jobID      string
	store      *store.Store
	driver     *driver.Driver
	maxWorkers int
	timeout    time.Duration

	onUnitComplete OnUnitComplete
	onUnitFailed   OnUnitFailed

	log *logrus.Entry

	mu            sync.Mutex
	activeWorkers map[string]*model.WorkerProcess
	running       bool
	wg            sync.WaitGroup
}

// New constructs a Pool for jobID. maxWorkers bounds concurrent unit
// execution; it must be ≥1.
func New(jobID string, st *store.Store, drv *driver.Driver, maxWorkers int, onComplete OnUnitComplete, onFailed OnUnitFailed, log *logrus.Entry) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pool{
		jobID:          jobID,
		store:          st,
		driver:         drv,
		maxWorkers:     maxWorkers,
		timeout:        driver.DefaultTimeout,
		onUnitComplete: onComplete,
		onUnitFailed:   onFailed,
		log:            log.WithField("job_id", jobID),
		activeWorkers:  make(map[string]*model.WorkerProcess),
	}
}

// SetTimeout overrides the per-unit driver timeout.
func (p *Pool) SetTimeout(d time.Duration) { p.timeout = d }

// Start marks the pool as accepting submissions.
func (p *Pool) Start() {
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()
}

// Stop disallows new submissions, drains currently running work (bounded
// only by each unit's own timeout), then marks every not-yet-terminated
// worker as terminated.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()

	workers, err := p.store.ListWorkers(ctx, p.jobID)
	if err != nil {
		p.log.WithError(err).Error("failed to list workers at shutdown")
		return
	}
	for _, w := range workers {
		if w.Status != model.WorkerStatusTerminated {
			w.Status = model.WorkerStatusTerminated
			_ = p.store.UpdateWorker(ctx, w)
		}
	}
}

// GetActiveWorkerCount returns the number of currently active workers.
func (p *Pool) GetActiveWorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.activeWorkers)
}

// WaitForAvailableSlot blocks until a worker slot becomes available or
// timeout elapses, returning false on timeout.
func (p *Pool) WaitForAvailableSlot(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if p.GetActiveWorkerCount() < p.maxWorkers {
			return true
		}
		if timeout > 0 && time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// SubmitWorkUnit submits a unit for processing on a free slot. Returns
// false if the pool is not running (not started, or stopped) or is
// already full.
func (p *Pool) SubmitWorkUnit(ctx context.Context, unit *model.WorkUnit, promptTemplate string) (bool, error) {
	p.mu.Lock()
	if !p.running || len(p.activeWorkers) >= p.maxWorkers {
		p.mu.Unlock()
		return false, nil
	}

	now := time.Now().UTC()
	worker := &model.WorkerProcess{
		WorkerID:      uuid.NewString(),
		JobID:         p.jobID,
		Status:        model.WorkerStatusBusy,
		CurrentUnitID: &unit.UnitID,
		StartedAt:     now,
	}

	workerID := worker.WorkerID
	unit.Status = model.WorkUnitStatusAssigned
	unit.WorkerID = &workerID
	unit.AssignedAt = &now

	p.activeWorkers[worker.WorkerID] = worker
	p.mu.Unlock()

	if err := p.store.CreateWorker(ctx, worker); err != nil {
		return false, fmt.Errorf("create worker: %w", err)
	}
	if err := p.store.UpdateWorkUnit(ctx, unit); err != nil {
		return false, fmt.Errorf("assign unit: %w", err)
	}

	p.wg.Add(1)
	go p.executeWorkUnit(context.WithoutCancel(ctx), worker, unit, promptTemplate)

	return true, nil
}

// WaitForCompletion blocks until every active worker finishes.
func (p *Pool) WaitForCompletion() {
	p.wg.Wait()
}

func (p *Pool) executeWorkUnit(ctx context.Context, worker *model.WorkerProcess, unit *model.WorkUnit, promptTemplate string) {
	defer p.wg.Done()
	defer p.releaseSlot(ctx, worker)

	log := p.log.WithFields(logrus.Fields{"worker_id": worker.WorkerID, "unit_id": unit.UnitID})
	defer func() {
		if r := recover(); r != nil {
			errStr := fmt.Sprintf("unexpected error in worker: %v", r)
			log.WithField("panic", r).Error(errStr)
			unit.Status = model.WorkUnitStatusFailed
			unit.Error = &errStr
			worker.UnitsFailed++
			if err := p.store.UpdateWorkUnit(ctx, unit); err != nil {
				log.WithError(err).Error("failed to persist crashed unit")
			}
			if p.onUnitFailed != nil {
				p.onUnitFailed(unit, driver.WorkerResult{Error: errStr})
			}
		}
	}()
	log.Info("starting execution of unit")

	unit.Status = model.WorkUnitStatusProcessing
	now := time.Now().UTC()
	unit.StartedAt = &now
	if err := p.store.UpdateWorkUnit(ctx, unit); err != nil {
		log.WithError(err).Error("failed to persist processing status")
	}

	result := p.runDriver(ctx, worker, unit, promptTemplate, log)

	completedAt := time.Now().UTC()
	unit.CompletedAt = &completedAt
	execSeconds := result.ExecutionTime.Seconds()
	unit.ExecutionTimeSeconds = &execSeconds
	unit.RenderedPrompt = strPtr(result.RenderedPrompt)
	unit.Conversation = result.Conversation
	unit.ProcessID = nil

	if result.Metadata != nil {
		if sid, ok := result.Metadata["session_id"].(string); ok && sid != "" {
			unit.SessionID = &sid
		}
		if cost, ok := result.Metadata["total_cost_usd"].(float64); ok {
			unit.CostUSD = &cost
		}
	}

	if result.Success {
		unit.Status = model.WorkUnitStatusCompleted
		unit.Result = workerResultToMap(result)
		worker.UnitsCompleted++
		worker.TotalExecutionTime += result.ExecutionTime.Seconds()
		log.WithField("execution_time", result.ExecutionTime).Info("completed unit")
		if err := p.store.UpdateWorkUnit(ctx, unit); err != nil {
			log.WithError(err).Error("failed to persist completed unit")
		}
		if p.onUnitComplete != nil {
			p.onUnitComplete(unit, result)
		}
	} else {
		unit.Status = model.WorkUnitStatusFailed
		errStr := result.Error
		unit.Error = &errStr
		unit.Result = workerResultToMap(result)
		worker.UnitsFailed++
		log.WithField("error", result.Error).Warn("unit failed")
		if err := p.store.UpdateWorkUnit(ctx, unit); err != nil {
			log.WithError(err).Error("failed to persist failed unit")
		}
		if p.onUnitFailed != nil {
			p.onUnitFailed(unit, result)
		}
	}
}

func (p *Pool) runDriver(ctx context.Context, worker *model.WorkerProcess, unit *model.WorkUnit, promptTemplate string, log *logrus.Entry) driver.WorkerResult {
	onStreamEvent := func(eventType string, event map[string]any) {
		switch eventType {
		case "system":
			if sid, ok := event["session_id"].(string); ok && sid != "" {
				_ = p.store.SetWorkUnitSessionID(ctx, unit.UnitID, sid)
			}
		case "user", "assistant", "tool_use", "tool_result":
			if _, err := p.store.AppendConversationEvent(ctx, unit.UnitID, event); err != nil {
				log.WithError(err).Warn("failed to append conversation event")
			}
		}
	}
	onProcessStart := func(pid int) {
		_ = p.store.SetWorkUnitProcessID(ctx, unit.UnitID, &pid)
		unit.ProcessID = &pid
		worker.ProcessID = &pid
	}

	return p.driver.Execute(ctx, promptTemplate, driver.Options{
		Payload:        unit.Payload,
		Timeout:        p.timeout,
		OnStreamEvent:  onStreamEvent,
		OnProcessStart: onProcessStart,
	})
}

func (p *Pool) releaseSlot(ctx context.Context, worker *model.WorkerProcess) {
	worker.Status = model.WorkerStatusIdle
	worker.CurrentUnitID = nil
	heartbeat := time.Now().UTC()
	worker.LastHeartbeat = &heartbeat
	if err := p.store.UpdateWorker(ctx, worker); err != nil {
		p.log.WithError(err).Error("failed to persist worker release")
	}

	p.mu.Lock()
	delete(p.activeWorkers, worker.WorkerID)
	p.mu.Unlock()
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func workerResultToMap(r driver.WorkerResult) map[string]any {
	return map[string]any{
		"success":  r.Success,
		"output":   r.Output,
		"error":    r.Error,
		"metadata": r.Metadata,
	}
}
