// Package orchestrator implements the Orchestrator: the in-process facade
// for job creation and the test/approve state machine, bridging
// enumerator output into work units and spawning the Job Executor.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/batchctl/batchctl/internal/config"
	"github.com/batchctl/batchctl/internal/driver"
	"github.com/batchctl/batchctl/internal/enumerate"
	"github.com/batchctl/batchctl/internal/executor"
	"github.com/batchctl/batchctl/internal/model"
	"github.com/batchctl/batchctl/internal/store"
	"github.com/batchctl/batchctl/internal/synth"
)

// Orchestrator bridges enumerators, the repository, and the detached
// executor.
type Orchestrator struct {
	store    *store.Store
	registry *enumerate.Registry
	driver   *driver.Driver
	cfg      config.Config
	log      *logrus.Entry
}

func New(st *store.Store, drv *driver.Driver, cfg config.Config, log *logrus.Entry) *Orchestrator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Orchestrator{store: st, registry: enumerate.NewRegistry(), driver: drv, cfg: cfg, log: log}
}

// CreateJobRequest is the input to CreateJob.
type CreateJobRequest struct {
	Name                 string
	Description          string
	Intent                string
	EnumeratorType        string
	EnumeratorConfig      map[string]any
	MaxWorkers            int
	MaxRetries             int
	PostProcessingPrompt  string
	BypassFailures         bool
}

// CreateJobResult mirrors the structured {success, error} response
// create_job returns — on failure nothing is persisted.
type CreateJobResult struct {
	Success bool
	Error   string
	Job     *model.Job
}

// CreateJob builds an enumerator, validates and runs it, and on success
// persists one Job plus N pending WorkUnits. Any failure, including an
// empty enumeration result, writes nothing.
func (o *Orchestrator) CreateJob(ctx context.Context, req CreateJobRequest) CreateJobResult {
	enumerator, err := o.registry.Build(req.EnumeratorType, req.EnumeratorConfig)
	if err != nil {
		return CreateJobResult{Error: fmt.Sprintf("%v: %v", model.ErrConfiguration, err)}
	}

	result, err := enumerator.Enumerate(ctx)
	if err != nil {
		return CreateJobResult{Error: fmt.Sprintf("%v: %v", model.ErrEnumeration, err)}
	}
	if len(result.Payloads) == 0 {
		return CreateJobResult{Error: "enumeration produced no items"}
	}

	template := o.synthesizeTemplate(req, result)

	maxWorkers := req.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = o.cfg.MaxWorkers
	}
	maxRetries := req.MaxRetries
	if maxRetries < 0 {
		maxRetries = o.cfg.MaxRetries
	}

	job := &model.Job{
		JobID:                uuid.NewString(),
		Name:                 req.Name,
		Description:          req.Description,
		WorkerPromptTemplate: template,
		UnitType:             "standard",
		MaxWorkers:           maxWorkers,
		MaxRetries:           maxRetries,
		PostProcessingPrompt: req.PostProcessingPrompt,
		BypassFailures:       req.BypassFailures,
		TotalUnits:           len(result.Payloads),
		Status:               model.JobStatusCreated,
		CreatedAt:            time.Now().UTC(),
		Metadata:             model.Metadata{},
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return CreateJobResult{Error: fmt.Sprintf("persist job: %v", err)}
	}

	for _, payload := range result.Payloads {
		unit := &model.WorkUnit{
			UnitID:     uuid.NewString(),
			JobID:      job.JobID,
			UnitType:   job.UnitType,
			Status:     model.WorkUnitStatusPending,
			Payload:    payload,
			CreatedAt:  time.Now().UTC(),
			MaxRetries: maxRetries,
		}
		if err := o.store.CreateWorkUnit(ctx, unit); err != nil {
			return CreateJobResult{Error: fmt.Sprintf("persist work unit: %v", err)}
		}
	}

	return CreateJobResult{Success: true, Job: job}
}

func (o *Orchestrator) synthesizeTemplate(req CreateJobRequest, result enumerate.Result) string {
	if fileTyped, _ := result.Metadata["file_typed"].(bool); fileTyped {
		return synth.FilePromptTemplate(req.Intent)
	}
	desc := synth.DescribePayload(result.Metadata)
	return synth.GenericPromptTemplate(req.Intent, desc)
}

// StartJobResult is the structured response from StartJob, covering both
// the test-phase and executor-start branches.
type StartJobResult struct {
	Success             bool
	Error               string
	ExecutorPID         *int
	AwaitingApproval    bool
	TestUnitID          string
	TestPassed          bool
	TestOutput          string
	TestError           string
	TestExecutionTime   time.Duration
	TestCostUSD         *float64
	AlreadyRunning      bool
}

// StartJob is the finite state machine over the job's current status.
func (o *Orchestrator) StartJob(ctx context.Context, jobID string, approve *bool, skipTest bool) StartJobResult {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return StartJobResult{Error: err.Error()}
	}

	switch job.Status {
	case model.JobStatusCreated:
		if skipTest || o.cfg.SkipTest {
			return o.startExecutor(ctx, job)
		}
		return o.runTestPhase(ctx, job)

	case model.JobStatusTesting:
		if approve == nil {
			return o.currentTestResult(ctx, job)
		}
		if *approve {
			return o.startExecutor(ctx, job)
		}
		job.Status = model.JobStatusCreated
		job.TestPassed = false
		if err := o.store.UpdateJob(ctx, job); err != nil {
			return StartJobResult{Error: err.Error()}
		}
		return StartJobResult{Success: true}

	case model.JobStatusRunning:
		if pid, ok := job.Metadata.ExecutorPID(); ok && pid > 0 && processAlive(pid) {
			return StartJobResult{Success: true, AlreadyRunning: true, ExecutorPID: &pid}
		}
		return o.startExecutor(ctx, job)

	default:
		return StartJobResult{Error: fmt.Sprintf("cannot start job in status %s", job.Status)}
	}
}

func (o *Orchestrator) startExecutor(ctx context.Context, job *model.Job) StartJobResult {
	now := time.Now().UTC()
	job.Status = model.JobStatusRunning
	job.StartedAt = &now
	if err := o.store.UpdateJob(ctx, job); err != nil {
		return StartJobResult{Error: err.Error()}
	}

	logPath := ""
	pid, err := executor.StartDetached(ctx, o.store, job.JobID, o.store.Path(), logPath)
	if err != nil {
		return StartJobResult{Error: err.Error()}
	}
	return StartJobResult{Success: true, ExecutorPID: &pid}
}

func (o *Orchestrator) currentTestResult(ctx context.Context, job *model.Job) StartJobResult {
	res := StartJobResult{Success: true, AwaitingApproval: true, TestUnitID: job.TestUnitID, TestPassed: job.TestPassed}
	if job.TestUnitID == "" {
		return res
	}
	unit, err := o.store.GetWorkUnit(ctx, job.TestUnitID)
	if err != nil {
		return res
	}
	if unit.Error != nil {
		res.TestError = *unit.Error
	}
	if out, ok := unit.Result["output"].(string); ok {
		res.TestOutput = out
	}
	return res
}
