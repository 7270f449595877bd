package control

import (
	"context"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/batchctl/batchctl/internal/driver"
	"github.com/batchctl/batchctl/internal/model"
	"github.com/batchctl/batchctl/internal/pool"
	"github.com/batchctl/batchctl/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "batchctl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRestartWorkUnitRequiresFailedStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	job := &model.Job{JobID: "j1", TotalUnits: 1, Status: model.JobStatusRunning, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateJob(ctx, job))
	require.NoError(t, st.CreateWorkUnit(ctx, &model.WorkUnit{UnitID: "u1", JobID: "j1", Status: model.WorkUnitStatusPending, Payload: map[string]any{}, CreatedAt: time.Now().UTC()}))

	c := New(st)
	err := c.RestartWorkUnit(ctx, "u1")
	require.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestRestartWorkUnitPreservesRetryCountAndDecrementsFailedUnits(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	job := &model.Job{JobID: "j1", TotalUnits: 1, FailedUnits: 1, Status: model.JobStatusRunning, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateJob(ctx, job))
	require.NoError(t, st.CreateWorkUnit(ctx, &model.WorkUnit{UnitID: "u1", JobID: "j1", Status: model.WorkUnitStatusFailed, RetryCount: 2, Payload: map[string]any{}, CreatedAt: time.Now().UTC()}))

	c := New(st)
	require.NoError(t, c.RestartWorkUnit(ctx, "u1"))

	unit, err := st.GetWorkUnit(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, model.WorkUnitStatusPending, unit.Status)
	require.Equal(t, 2, unit.RetryCount, "restart must preserve retry_count")

	gotJob, err := st.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, 0, gotJob.FailedUnits)
}

func TestRestartWorkUnitFailedUnitsFloorsAtZero(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	job := &model.Job{JobID: "j1", TotalUnits: 1, FailedUnits: 0, Status: model.JobStatusRunning, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateJob(ctx, job))
	require.NoError(t, st.CreateWorkUnit(ctx, &model.WorkUnit{UnitID: "u1", JobID: "j1", Status: model.WorkUnitStatusFailed, Payload: map[string]any{}, CreatedAt: time.Now().UTC()}))

	c := New(st)
	require.NoError(t, c.RestartWorkUnit(ctx, "u1"))

	gotJob, err := st.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, 0, gotJob.FailedUnits)
}

func TestKillWorkUnitMarksFailedAndIncrementsCounter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	job := &model.Job{JobID: "j1", TotalUnits: 1, Status: model.JobStatusRunning, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateJob(ctx, job))
	require.NoError(t, st.CreateWorkUnit(ctx, &model.WorkUnit{UnitID: "u1", JobID: "j1", Status: model.WorkUnitStatusProcessing, Payload: map[string]any{}, CreatedAt: time.Now().UTC()}))

	c := New(st)
	require.NoError(t, c.KillWorkUnit(ctx, "u1"))

	unit, err := st.GetWorkUnit(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, model.WorkUnitStatusFailed, unit.Status)
	require.NotNil(t, unit.Error)

	gotJob, err := st.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, 1, gotJob.FailedUnits)
}

func TestKillWorkUnitOnAlreadyTerminalUnitDoesNotDoubleCount(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	job := &model.Job{JobID: "j1", TotalUnits: 1, CompletedUnits: 1, Status: model.JobStatusRunning, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateJob(ctx, job))
	require.NoError(t, st.CreateWorkUnit(ctx, &model.WorkUnit{UnitID: "u1", JobID: "j1", Status: model.WorkUnitStatusCompleted, Payload: map[string]any{}, CreatedAt: time.Now().UTC()}))

	c := New(st)
	require.NoError(t, c.KillWorkUnit(ctx, "u1"))

	unit, err := st.GetWorkUnit(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, model.WorkUnitStatusCompleted, unit.Status, "an already-terminal unit must not be flipped to failed")

	gotJob, err := st.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, 0, gotJob.FailedUnits)
}

// TestKillWorkUnitAgainstLiveWorkerLeavesConsistentTerminalState covers
// the race spec §8 guards against: killing a unit whose worker is still
// in flight must not fight with that worker's own completion write. It
// submits a unit through a real pool.Pool backed by a driver that spawns
// a genuinely long-running subprocess, kills it mid-flight via
// KillWorkUnit once the process is recorded, and asserts the unit ends
// up in exactly one terminal state with failed_units incremented exactly
// once (by the worker's own failure path, not by KillWorkUnit).
func TestKillWorkUnitAgainstLiveWorkerLeavesConsistentTerminalState(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := &model.Job{JobID: "j1", TotalUnits: 1, Status: model.JobStatusRunning, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateJob(ctx, job))
	unit := &model.WorkUnit{UnitID: "u1", JobID: "j1", Status: model.WorkUnitStatusPending, Payload: map[string]any{}, CreatedAt: time.Now().UTC(), MaxRetries: 0}
	require.NoError(t, st.CreateWorkUnit(ctx, unit))

	blockingDriver := driver.New()
	blockingDriver.SetExecCommandForTest(func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", "sleep 5")
	})

	var mu sync.Mutex
	failedCalls := 0
	onFailed := func(u *model.WorkUnit, r driver.WorkerResult) {
		mu.Lock()
		failedCalls++
		mu.Unlock()
		job, err := st.GetJob(ctx, "j1")
		require.NoError(t, err)
		job.FailedUnits++
		require.NoError(t, st.UpdateJob(ctx, job))
	}
	p := pool.New("j1", st, blockingDriver, 1, func(*model.WorkUnit, driver.WorkerResult) {}, onFailed, nil)
	p.Start()

	ok, err := p.SubmitWorkUnit(ctx, unit, "prompt")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		got, err := st.GetWorkUnit(ctx, "u1")
		return err == nil && got.ProcessID != nil
	}, 2*time.Second, 10*time.Millisecond, "worker must record a process_id before it can be killed")

	c := New(st)
	require.NoError(t, c.KillWorkUnit(ctx, "u1"))

	p.WaitForCompletion()

	mu.Lock()
	calls := failedCalls
	mu.Unlock()
	require.Equal(t, 1, calls, "the worker's own completion path must run exactly once")

	got, err := st.GetWorkUnit(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, model.WorkUnitStatusFailed, got.Status)
	require.Nil(t, got.ProcessID)

	gotJob, err := st.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, 1, gotJob.FailedUnits, "failed_units must be incremented exactly once, not double-counted")
}

func TestResumeJobReturnsNilWhenNoPendingUnits(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	job := &model.Job{JobID: "j1", TotalUnits: 1, CompletedUnits: 1, Status: model.JobStatusPaused, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateJob(ctx, job))
	require.NoError(t, st.CreateWorkUnit(ctx, &model.WorkUnit{UnitID: "u1", JobID: "j1", Status: model.WorkUnitStatusCompleted, Payload: map[string]any{}, CreatedAt: time.Now().UTC()}))

	c := New(st)
	pid, err := c.ResumeJob(ctx, "j1", st.Path(), "")
	require.NoError(t, err)
	require.Nil(t, pid)
}
