package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/batchctl/batchctl/internal/model"
	"github.com/batchctl/batchctl/internal/pool"
)

// runPostProcessing implements the scatter-gather-synthesize step: a
// single synthetic WorkUnit carrying aggregate context is created and run
// through a one-slot pool, outside the regular unit counters.
func (e *Executor) runPostProcessing(ctx context.Context, job *model.Job, log *logrus.Entry) error {
	job.Status = model.JobStatusPostProcessing
	if err := e.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("enter post_processing: %w", err)
	}

	maxRetries := defaultMaxRetries
	if n, ok := job.Metadata.GetInt("max_retries"); ok {
		maxRetries = n
	}

	payload := map[string]any{
		"type":               "post_processing",
		"total_units":        job.TotalUnits,
		"completed_units":    job.CompletedUnits,
		"failed_units":       job.FailedUnits,
		"name":               job.Name,
		"description":        job.Description,
	}
	for _, key := range []string{"name", "working_directory", "output_directory"} {
		if v, ok := job.Metadata[key]; ok {
			payload[key] = v
		}
	}

	unit := &model.WorkUnit{
		UnitID:     uuid.NewString(),
		JobID:      job.JobID,
		UnitType:   model.PostProcessingUnitType,
		Status:     model.WorkUnitStatusPending,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: maxRetries,
	}
	if err := e.store.CreateWorkUnit(ctx, unit); err != nil {
		return fmt.Errorf("create post-processing unit: %w", err)
	}

	job.PostProcessingUnitID = unit.UnitID
	if err := e.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("point job at post-processing unit: %w", err)
	}

	wp := pool.New(job.JobID, e.store, e.driver, 1, e.onUnitComplete(job.JobID), e.onUnitFailed(job.JobID), log)
	wp.Start()
	if ok, err := wp.SubmitWorkUnit(ctx, unit, job.PostProcessingPrompt); err != nil {
		return fmt.Errorf("submit post-processing unit: %w", err)
	} else if !ok {
		return fmt.Errorf("post-processing pool unexpectedly full")
	}
	wp.WaitForCompletion()

	final, err := e.store.GetWorkUnit(ctx, unit.UnitID)
	if err != nil {
		return fmt.Errorf("reload post-processing unit: %w", err)
	}
	log.WithField("status", final.Status).Info("post-processing unit finished")
	return nil
}
