// Package model defines the core entities shared by every component:
// jobs, work units, worker processes, and log entries.
package model

import "time"

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobStatusCreated       JobStatus = "created"
	JobStatusTesting       JobStatus = "testing"
	JobStatusRunning       JobStatus = "running"
	JobStatusPostProcessing JobStatus = "post_processing"
	JobStatusCompleted     JobStatus = "completed"
	JobStatusFailed        JobStatus = "failed"
	JobStatusPaused        JobStatus = "paused"
)

// WorkUnitStatus is the lifecycle state of a WorkUnit.
type WorkUnitStatus string

const (
	WorkUnitStatusPending    WorkUnitStatus = "pending"
	WorkUnitStatusAssigned   WorkUnitStatus = "assigned"
	WorkUnitStatusProcessing WorkUnitStatus = "processing"
	WorkUnitStatusCompleted  WorkUnitStatus = "completed"
	WorkUnitStatusFailed     WorkUnitStatus = "failed"
)

// WorkerStatus is the lifecycle state of a WorkerProcess record.
type WorkerStatus string

const (
	WorkerStatusIdle       WorkerStatus = "idle"
	WorkerStatusBusy       WorkerStatus = "busy"
	WorkerStatusFailed     WorkerStatus = "failed"
	WorkerStatusTerminated WorkerStatus = "terminated"
)

// PostProcessingUnitType tags the synthetic work unit created for the
// scatter-gather-synthesize step. It is never counted in a job's
// total/completed/failed unit counters.
const PostProcessingUnitType = "post_processing"

// Metadata is the open string->JSON bag carried on a Job. Well-known keys
// are exposed through typed accessors below; unknown keys round-trip
// opaquely.
type Metadata map[string]any

func (m Metadata) GetString(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (m Metadata) GetInt(key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// ExecutorPID returns the recorded detached-executor PID, if any.
func (m Metadata) ExecutorPID() (int, bool) { return m.GetInt("executor_pid") }

// SetExecutorPID records the detached-executor PID.
func (m Metadata) SetExecutorPID(pid int) { m["executor_pid"] = pid }

// Job is the unit of user intent: a batch of work units sharing a prompt
// template and configuration.
type Job struct {
	JobID    string    `json:"job_id"`
	Name     string    `json:"name"`
	Description string `json:"description"`

	WorkerPromptTemplate string `json:"worker_prompt_template"`
	UnitType             string `json:"unit_type"`

	MaxWorkers          int    `json:"max_workers"`
	MaxRetries          int    `json:"max_retries"`
	PostProcessingPrompt string `json:"post_processing_prompt,omitempty"`
	BypassFailures      bool   `json:"bypass_failures"`
	OutputStrategy      string `json:"output_strategy,omitempty"`

	TotalUnits     int `json:"total_units"`
	CompletedUnits int `json:"completed_units"`
	FailedUnits    int `json:"failed_units"`

	Status JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	TestUnitID string `json:"test_unit_id,omitempty"`
	TestPassed bool   `json:"test_passed"`

	PostProcessingUnitID string `json:"post_processing_unit_id,omitempty"`

	Metadata Metadata `json:"metadata"`
}

// AllUnitsDone reports whether every non-post-processing unit has reached
// a terminal state.
func (j *Job) AllUnitsDone() bool {
	return j.CompletedUnits+j.FailedUnits == j.TotalUnits
}

// AllSucceeded reports whether every non-post-processing unit completed
// successfully.
func (j *Job) AllSucceeded() bool {
	return j.CompletedUnits == j.TotalUnits
}

// ProgressPercentage returns 0-100; 0 when there are no units at all.
func (j *Job) ProgressPercentage() float64 {
	if j.TotalUnits == 0 {
		return 0
	}
	return 100 * float64(j.CompletedUnits+j.FailedUnits) / float64(j.TotalUnits)
}

// WorkUnit is a single item to be processed by one agent subprocess
// invocation.
type WorkUnit struct {
	UnitID string `json:"unit_id"`
	JobID  string `json:"job_id"`
	UnitType string `json:"unit_type"`

	Payload map[string]any `json:"payload"`

	Status WorkUnitStatus `json:"status"`

	WorkerID   *string    `json:"worker_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	Result               map[string]any   `json:"result,omitempty"`
	Error                *string          `json:"error,omitempty"`
	ExecutionTimeSeconds *float64         `json:"execution_time_seconds,omitempty"`
	OutputFiles          []string         `json:"output_files"`
	RenderedPrompt       *string          `json:"rendered_prompt,omitempty"`
	Conversation         []map[string]any `json:"conversation,omitempty"`
	SessionID            *string          `json:"session_id,omitempty"`
	CostUSD              *float64         `json:"cost_usd,omitempty"`
	ProcessID            *int             `json:"process_id,omitempty"`
}

// CanRetry reports whether an automatic retry may still be attempted.
func (u *WorkUnit) CanRetry() bool { return u.RetryCount < u.MaxRetries }

// IsPostProcessing reports whether this unit is the synthetic
// post-processing unit, excluded from job counters.
func (u *WorkUnit) IsPostProcessing() bool { return u.UnitType == PostProcessingUnitType }

// ClearAssignment clears every per-attempt field except RetryCount, the
// way an automatic retry or a manual restart-work-unit resets a unit back
// to pending.
func (u *WorkUnit) ClearAssignment() {
	u.Status = WorkUnitStatusPending
	u.WorkerID = nil
	u.AssignedAt = nil
	u.StartedAt = nil
	u.CompletedAt = nil
	u.Result = nil
	u.Error = nil
	u.ExecutionTimeSeconds = nil
	u.OutputFiles = nil
	u.RenderedPrompt = nil
	u.Conversation = nil
	u.SessionID = nil
	u.CostUSD = nil
	u.ProcessID = nil
}

// WorkerProcess is an ephemeral bookkeeping record for an in-flight unit
// assignment. It is not itself an OS process; ProcessID, when set, names
// the OS pid of the agent subprocess the assignment is currently running.
type WorkerProcess struct {
	WorkerID string       `json:"worker_id"`
	JobID    string       `json:"job_id"`
	Status   WorkerStatus `json:"status"`

	CurrentUnitID *string    `json:"current_unit_id,omitempty"`
	ProcessID     *int       `json:"process_id,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`

	UnitsCompleted       int     `json:"units_completed"`
	UnitsFailed          int     `json:"units_failed"`
	TotalExecutionTime   float64 `json:"total_execution_time"`
}

// LogEntry is an append-only operational breadcrumb.
type LogEntry struct {
	ID        int64          `json:"id"`
	JobID     string         `json:"job_id"`
	Source    string         `json:"source"` // "executor" | "worker" | "pool" | "orchestrator" | "control"
	Level     string         `json:"level"`  // "debug" | "info" | "warn" | "error"
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	WorkerID  *string        `json:"worker_id,omitempty"`
	UnitID    *string        `json:"unit_id,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}
