package pool

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
	"github.com/batchctl/batchctl/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "batchctl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func succeedingDriver() *driver.Driver {
	d := driver.New()
	d.SetExecCommandForTest(func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		script := `printf '%s\n' '{"type":"result","is_error":false,"result":"ok","total_cost_usd":0.1}'`
		return exec.CommandContext(ctx, "sh", "-c", script)
	})
	return d
}

func TestSubmitWorkUnitRunsToCompletionAndReleasesSlot(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	job := &model.Job{JobID: "j1", TotalUnits: 1, Status: model.JobStatusRunning, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateJob(ctx, job))
	unit := &model.WorkUnit{UnitID: "u1", JobID: "j1", Status: model.WorkUnitStatusPending, Payload: map[string]any{}, CreatedAt: time.Now().UTC(), MaxRetries: 1}
	require.NoError(t, st.CreateWorkUnit(ctx, unit))

	var mu sync.Mutex
	var completed bool
	p := New("j1", st, succeedingDriver(), 2,
		func(u *model.WorkUnit, r driver.WorkerResult) { mu.Lock(); completed = true; mu.Unlock() },
		func(u *model.WorkUnit, r driver.WorkerResult) {},
		nil)
	p.Start()

	ok, err := p.SubmitWorkUnit(ctx, unit, "do it")
	require.NoError(t, err)
	require.True(t, ok)

	p.WaitForCompletion()

	mu.Lock()
	defer mu.Unlock()
	require.True(t, completed)
	require.Equal(t, 0, p.GetActiveWorkerCount())

	got, err := st.GetWorkUnit(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, model.WorkUnitStatusCompleted, got.Status)
}

func TestSubmitWorkUnitRejectsWhenFull(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	job := &model.Job{JobID: "j1", TotalUnits: 2, Status: model.JobStatusRunning, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateJob(ctx, job))

	blockingDriver := driver.New()
	blockingDriver.SetExecCommandForTest(func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", "sleep 2")
	})

	p := New("j1", st, blockingDriver, 1, func(*model.WorkUnit, driver.WorkerResult) {}, func(*model.WorkUnit, driver.WorkerResult) {}, nil)
	p.Start()

	u1 := &model.WorkUnit{UnitID: "u1", JobID: "j1", Status: model.WorkUnitStatusPending, Payload: map[string]any{}, CreatedAt: time.Now().UTC()}
	u2 := &model.WorkUnit{UnitID: "u2", JobID: "j1", Status: model.WorkUnitStatusPending, Payload: map[string]any{}, CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateWorkUnit(ctx, u1))
	require.NoError(t, st.CreateWorkUnit(ctx, u2))

	ok, err := p.SubmitWorkUnit(ctx, u1, "prompt")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = p.SubmitWorkUnit(ctx, u2, "prompt")
	require.NoError(t, err)
	require.False(t, ok, "pool at capacity must reject rather than block")

	p.Stop(ctx)
}
