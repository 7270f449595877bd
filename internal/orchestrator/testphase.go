package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/batchctl/batchctl/internal/driver"
	"github.com/batchctl/batchctl/internal/model"
)

// runTestPhase picks the first pending unit and invokes the driver
// synchronously, blocking the calling goroutine for the entire test-unit
// run. It never auto-continues: the caller must explicitly approve
// before StartJob will spawn the real executor.
func (o *Orchestrator) runTestPhase(ctx context.Context, job *model.Job) StartJobResult {
	units, err := o.store.GetPendingUnits(ctx, job.JobID, 1)
	if err != nil {
		return StartJobResult{Error: err.Error()}
	}
	if len(units) == 0 {
		return StartJobResult{Error: "no pending units available for test phase"}
	}
	unit := units[0]

	job.Status = model.JobStatusTesting
	job.TestUnitID = unit.UnitID
	if err := o.store.UpdateJob(ctx, job); err != nil {
		return StartJobResult{Error: err.Error()}
	}

	unit.Status = model.WorkUnitStatusProcessing
	now := time.Now().UTC()
	unit.StartedAt = &now
	if err := o.store.UpdateWorkUnit(ctx, unit); err != nil {
		return StartJobResult{Error: err.Error()}
	}

	onStreamEvent := func(eventType string, event map[string]any) {
		switch eventType {
		case "system":
			if sid, ok := event["session_id"].(string); ok && sid != "" {
				_ = o.store.SetWorkUnitSessionID(ctx, unit.UnitID, sid)
			}
		case "user", "assistant", "tool_use", "tool_result":
			_, _ = o.store.AppendConversationEvent(ctx, unit.UnitID, event)
		}
	}
	var pid *int
	onProcessStart := func(p int) {
		pid = &p
		_ = o.store.SetWorkUnitProcessID(ctx, unit.UnitID, &p)
	}

	result := o.driver.Execute(ctx, job.WorkerPromptTemplate, driver.Options{
		Payload:        unit.Payload,
		OnStreamEvent:  onStreamEvent,
		OnProcessStart: onProcessStart,
	})
	_ = pid

	completedAt := time.Now().UTC()
	unit.CompletedAt = &completedAt
	execSeconds := result.ExecutionTime.Seconds()
	unit.ExecutionTimeSeconds = &execSeconds
	unit.Conversation = result.Conversation
	unit.ProcessID = nil
	if result.RenderedPrompt != "" {
		unit.RenderedPrompt = &result.RenderedPrompt
	}
	if result.Metadata != nil {
		if cost, ok := result.Metadata["total_cost_usd"].(float64); ok {
			unit.CostUSD = &cost
		}
	}

	if result.Success {
		unit.Status = model.WorkUnitStatusCompleted
		unit.Result = map[string]any{"success": true, "output": result.Output}
	} else {
		unit.Status = model.WorkUnitStatusFailed
		errStr := result.Error
		unit.Error = &errStr
		unit.Result = map[string]any{"success": false, "error": result.Error}
	}
	if err := o.store.UpdateWorkUnit(ctx, unit); err != nil {
		return StartJobResult{Error: err.Error()}
	}

	job.TestPassed = result.Success
	if result.Success {
		job.CompletedUnits = 1
	}
	if err := o.store.UpdateJob(ctx, job); err != nil {
		return StartJobResult{Error: err.Error()}
	}

	res := StartJobResult{
		Success:           true,
		AwaitingApproval:  true,
		TestUnitID:        unit.UnitID,
		TestPassed:        result.Success,
		TestOutput:        result.Output,
		TestError:         result.Error,
		TestExecutionTime: result.ExecutionTime,
		TestCostUSD:       unit.CostUSD,
	}
	if !result.Success {
		res.Error = fmt.Sprintf("test unit failed: %s", result.Error)
	}
	return res
}
