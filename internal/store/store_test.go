package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/batchctl/batchctl/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "batchctl.db")
	st, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestJob(t *testing.T, st *Store) *model.Job {
	t.Helper()
	job := &model.Job{
		JobID:                "job-1",
		Name:                 "test job",
		WorkerPromptTemplate: "do {file_path}",
		MaxWorkers:           2,
		MaxRetries:           3,
		TotalUnits:           1,
		Status:               model.JobStatusCreated,
		CreatedAt:            time.Now().UTC(),
		Metadata:             model.Metadata{},
	}
	require.NoError(t, st.CreateJob(context.Background(), job))
	return job
}

func TestCreateAndGetJobRoundTrips(t *testing.T) {
	st := newTestStore(t)
	job := newTestJob(t, st)

	got, err := st.GetJob(context.Background(), job.JobID)
	require.NoError(t, err)
	require.Equal(t, job.Name, got.Name)
	require.Equal(t, job.Status, got.Status)
	require.Equal(t, job.TotalUnits, got.TotalUnits)
}

func TestGetJobNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetJob(context.Background(), "nonexistent")
	require.Error(t, err)
}

func TestUpdateJobPersistsMetadata(t *testing.T) {
	st := newTestStore(t)
	job := newTestJob(t, st)

	job.Metadata.SetExecutorPID(999)
	job.Status = model.JobStatusRunning
	require.NoError(t, st.UpdateJob(context.Background(), job))

	got, err := st.GetJob(context.Background(), job.JobID)
	require.NoError(t, err)
	pid, ok := got.Metadata.ExecutorPID()
	require.True(t, ok)
	require.Equal(t, 999, pid)
	require.Equal(t, model.JobStatusRunning, got.Status)
}

func TestWorkUnitLifecycleAndPendingOrdering(t *testing.T) {
	st := newTestStore(t)
	job := newTestJob(t, st)
	ctx := context.Background()

	first := &model.WorkUnit{UnitID: "u1", JobID: job.JobID, Status: model.WorkUnitStatusPending, Payload: map[string]any{"file_path": "a.txt"}, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateWorkUnit(ctx, first))
	time.Sleep(5 * time.Millisecond)
	second := &model.WorkUnit{UnitID: "u2", JobID: job.JobID, Status: model.WorkUnitStatusPending, Payload: map[string]any{"file_path": "b.txt"}, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateWorkUnit(ctx, second))

	pending, err := st.GetPendingUnits(ctx, job.JobID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "u1", pending[0].UnitID, "pending units must be ordered oldest first")
	require.Equal(t, "u2", pending[1].UnitID)
}

func TestAppendConversationEventAccumulates(t *testing.T) {
	st := newTestStore(t)
	job := newTestJob(t, st)
	ctx := context.Background()

	unit := &model.WorkUnit{UnitID: "u1", JobID: job.JobID, Status: model.WorkUnitStatusProcessing, Payload: map[string]any{}, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateWorkUnit(ctx, unit))

	found, err := st.AppendConversationEvent(ctx, "u1", map[string]any{"type": "assistant", "message": map[string]any{"content": []any{map[string]any{"type": "text", "text": "hello"}}}})
	require.NoError(t, err)
	require.True(t, found)

	found, err = st.AppendConversationEvent(ctx, "u1", map[string]any{"type": "tool_use", "name": "grep", "input": map[string]any{"pattern": "foo"}})
	require.NoError(t, err)
	require.True(t, found)

	got, err := st.GetWorkUnit(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got.Conversation, 2)
	require.Equal(t, "assistant", got.Conversation[0]["type"])
	require.Equal(t, "tool_use", got.Conversation[1]["type"])
}

func TestAppendConversationEventMissingUnit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	found, err := st.AppendConversationEvent(ctx, "does-not-exist", map[string]any{"type": "assistant"})
	require.NoError(t, err)
	require.False(t, found)
}

func TestGetActiveUnitsWithLatestConversationSummarizesAssistantText(t *testing.T) {
	st := newTestStore(t)
	job := newTestJob(t, st)
	ctx := context.Background()

	unit := &model.WorkUnit{UnitID: "u1", JobID: job.JobID, Status: model.WorkUnitStatusProcessing, Payload: map[string]any{}, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateWorkUnit(ctx, unit))
	_, err := st.AppendConversationEvent(ctx, "u1", map[string]any{
		"type":    "assistant",
		"message": map[string]any{"content": []any{map[string]any{"type": "text", "text": "working on it"}}},
	})
	require.NoError(t, err)

	summaries, err := st.GetActiveUnitsWithLatestConversation(ctx, job.JobID)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "working on it", summaries[0].LatestEvent)
}

func TestResetStuckUnitsIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	job := newTestJob(t, st)
	ctx := context.Background()

	worker := "w1"
	now := time.Now().UTC()
	unit := &model.WorkUnit{UnitID: "u1", JobID: job.JobID, Status: model.WorkUnitStatusProcessing, WorkerID: &worker, AssignedAt: &now, StartedAt: &now, Payload: map[string]any{}, CreatedAt: now}
	require.NoError(t, st.CreateWorkUnit(ctx, unit))

	n, err := st.ResetStuckUnits(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := st.GetWorkUnit(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, model.WorkUnitStatusPending, got.Status)
	require.Nil(t, got.WorkerID)

	n, err = st.ResetStuckUnits(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, 0, n, "a second run must find nothing left in assigned/processing")
}

func TestCountUnitsByStatus(t *testing.T) {
	st := newTestStore(t)
	job := newTestJob(t, st)
	ctx := context.Background()

	require.NoError(t, st.CreateWorkUnit(ctx, &model.WorkUnit{UnitID: "u1", JobID: job.JobID, Status: model.WorkUnitStatusPending, Payload: map[string]any{}, CreatedAt: time.Now().UTC()}))
	require.NoError(t, st.CreateWorkUnit(ctx, &model.WorkUnit{UnitID: "u2", JobID: job.JobID, Status: model.WorkUnitStatusFailed, Payload: map[string]any{}, CreatedAt: time.Now().UTC()}))

	counts, err := st.CountUnitsByStatus(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, 1, counts[model.WorkUnitStatusPending])
	require.Equal(t, 1, counts[model.WorkUnitStatusFailed])
}

func TestGetJobTotalCost(t *testing.T) {
	st := newTestStore(t)
	job := newTestJob(t, st)
	ctx := context.Background()

	costA, costB := 1.5, 2.25
	require.NoError(t, st.CreateWorkUnit(ctx, &model.WorkUnit{UnitID: "u1", JobID: job.JobID, Status: model.WorkUnitStatusCompleted, Payload: map[string]any{}, CreatedAt: time.Now().UTC(), CostUSD: &costA}))
	require.NoError(t, st.CreateWorkUnit(ctx, &model.WorkUnit{UnitID: "u2", JobID: job.JobID, Status: model.WorkUnitStatusCompleted, Payload: map[string]any{}, CreatedAt: time.Now().UTC(), CostUSD: &costB}))

	total, err := st.GetJobTotalCost(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, 3.75, total)
}

func TestTruncateAll(t *testing.T) {
	st := newTestStore(t)
	newTestJob(t, st)

	require.NoError(t, st.TruncateAll(context.Background()))

	jobs, err := st.ListJobs(context.Background())
	require.NoError(t, err)
	require.Empty(t, jobs)
}
