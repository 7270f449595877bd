package executor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/batchctl/batchctl/internal/model"
	"github.com/batchctl/batchctl/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "batchctl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func createJob(t *testing.T, st *store.Store, job *model.Job) {
	t.Helper()
	job.CreatedAt = time.Now().UTC()
	require.NoError(t, st.CreateJob(context.Background(), job))
}

// TestDecideFinalStatus covers every row of the final-status rule table:
// post-processing failure beats everything else, all-succeeded (with no
// or a succeeded post-processing step) means completed, bypass-with-
// succeeded-post-processing also means completed, any permanent failure
// once every unit is done means failed, and anything else means paused.
func TestDecideFinalStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("post-processing failure always wins", func(t *testing.T) {
		st := newTestStore(t)
		job := &model.Job{JobID: "j1", TotalUnits: 2, CompletedUnits: 2, PostProcessingUnitID: "pp1", Status: model.JobStatusRunning}
		createJob(t, st, job)
		require.NoError(t, st.CreateWorkUnit(ctx, &model.WorkUnit{UnitID: "pp1", JobID: "j1", UnitType: model.PostProcessingUnitType, Status: model.WorkUnitStatusFailed, Payload: map[string]any{}, CreatedAt: time.Now().UTC()}))

		status, _ := decideFinalStatus(ctx, st, job)
		require.Equal(t, model.JobStatusFailed, status)
	})

	t.Run("all succeeded, no post-processing", func(t *testing.T) {
		st := newTestStore(t)
		job := &model.Job{JobID: "j2", TotalUnits: 3, CompletedUnits: 3, Status: model.JobStatusRunning}
		createJob(t, st, job)

		status, _ := decideFinalStatus(ctx, st, job)
		require.Equal(t, model.JobStatusCompleted, status)
	})

	t.Run("all succeeded, post-processing also succeeded", func(t *testing.T) {
		st := newTestStore(t)
		job := &model.Job{JobID: "j3", TotalUnits: 2, CompletedUnits: 2, PostProcessingUnitID: "pp1", Status: model.JobStatusRunning}
		createJob(t, st, job)
		require.NoError(t, st.CreateWorkUnit(ctx, &model.WorkUnit{UnitID: "pp1", JobID: "j3", UnitType: model.PostProcessingUnitType, Status: model.WorkUnitStatusCompleted, Payload: map[string]any{}, CreatedAt: time.Now().UTC()}))

		status, _ := decideFinalStatus(ctx, st, job)
		require.Equal(t, model.JobStatusCompleted, status)
	})

	t.Run("bypass failures with succeeded post-processing", func(t *testing.T) {
		st := newTestStore(t)
		job := &model.Job{JobID: "j4", TotalUnits: 3, CompletedUnits: 2, FailedUnits: 1, BypassFailures: true, PostProcessingUnitID: "pp1", Status: model.JobStatusRunning}
		createJob(t, st, job)
		require.NoError(t, st.CreateWorkUnit(ctx, &model.WorkUnit{UnitID: "pp1", JobID: "j4", UnitType: model.PostProcessingUnitType, Status: model.WorkUnitStatusCompleted, Payload: map[string]any{}, CreatedAt: time.Now().UTC()}))

		status, _ := decideFinalStatus(ctx, st, job)
		require.Equal(t, model.JobStatusCompleted, status)
	})

	t.Run("permanent failures with all units done, no bypass", func(t *testing.T) {
		st := newTestStore(t)
		job := &model.Job{JobID: "j5", TotalUnits: 3, CompletedUnits: 2, FailedUnits: 1, Status: model.JobStatusRunning}
		createJob(t, st, job)

		status, _ := decideFinalStatus(ctx, st, job)
		require.Equal(t, model.JobStatusFailed, status)
	})

	t.Run("units still pending means paused", func(t *testing.T) {
		st := newTestStore(t)
		job := &model.Job{JobID: "j6", TotalUnits: 3, CompletedUnits: 1, FailedUnits: 1, Status: model.JobStatusRunning}
		createJob(t, st, job)

		status, _ := decideFinalStatus(ctx, st, job)
		require.Equal(t, model.JobStatusPaused, status)
	})
}

func TestRecoverIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	job := &model.Job{JobID: "j1", TotalUnits: 1, Status: model.JobStatusRunning}
	createJob(t, st, job)

	worker := "w1"
	now := time.Now().UTC()
	require.NoError(t, st.CreateWorkUnit(ctx, &model.WorkUnit{
		UnitID: "u1", JobID: "j1", Status: model.WorkUnitStatusProcessing,
		WorkerID: &worker, AssignedAt: &now, StartedAt: &now,
		Payload: map[string]any{}, CreatedAt: now,
	}))

	e := New(st, nil, nil)
	require.NoError(t, e.recover(ctx, "j1", e.log))
	require.NoError(t, e.recover(ctx, "j1", e.log))

	got, err := st.GetWorkUnit(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, model.WorkUnitStatusPending, got.Status)
}
