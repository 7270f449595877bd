package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobAllUnitsDone(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		completed int
		failed    int
		expected  bool
	}{
		{"none processed", 5, 0, 0, false},
		{"all completed", 5, 5, 0, true},
		{"mixed complete and failed", 5, 3, 2, true},
		{"partial", 5, 2, 1, false},
		{"zero units", 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &Job{TotalUnits: tt.total, CompletedUnits: tt.completed, FailedUnits: tt.failed}
			assert.Equal(t, tt.expected, j.AllUnitsDone())
		})
	}
}

func TestJobAllSucceeded(t *testing.T) {
	j := &Job{TotalUnits: 3, CompletedUnits: 3}
	assert.True(t, j.AllSucceeded())

	j = &Job{TotalUnits: 3, CompletedUnits: 2, FailedUnits: 1}
	assert.False(t, j.AllSucceeded())
}

func TestJobProgressPercentage(t *testing.T) {
	j := &Job{TotalUnits: 0}
	assert.Equal(t, 0.0, j.ProgressPercentage())

	j = &Job{TotalUnits: 4, CompletedUnits: 1, FailedUnits: 1}
	assert.Equal(t, 50.0, j.ProgressPercentage())

	j = &Job{TotalUnits: 4, CompletedUnits: 4}
	assert.Equal(t, 100.0, j.ProgressPercentage())
}

func TestWorkUnitCanRetry(t *testing.T) {
	u := &WorkUnit{RetryCount: 0, MaxRetries: 3}
	assert.True(t, u.CanRetry())

	u.RetryCount = 3
	assert.False(t, u.CanRetry())
}

func TestWorkUnitIsPostProcessing(t *testing.T) {
	u := &WorkUnit{UnitType: PostProcessingUnitType}
	assert.True(t, u.IsPostProcessing())

	u = &WorkUnit{UnitType: "standard"}
	assert.False(t, u.IsPostProcessing())
}

func TestWorkUnitClearAssignmentPreservesRetryCount(t *testing.T) {
	worker := "worker-1"
	errMsg := "boom"
	u := &WorkUnit{
		Status:       WorkUnitStatusFailed,
		WorkerID:     &worker,
		RetryCount:   2,
		Error:        &errMsg,
		Result:       map[string]any{"success": false},
		SessionID:    &worker,
		Conversation: []map[string]any{{"type": "assistant"}},
	}

	u.ClearAssignment()

	assert.Equal(t, WorkUnitStatusPending, u.Status)
	assert.Nil(t, u.WorkerID)
	assert.Nil(t, u.Error)
	assert.Nil(t, u.Result)
	assert.Nil(t, u.SessionID)
	assert.Nil(t, u.Conversation)
	assert.Equal(t, 2, u.RetryCount, "retry count must survive ClearAssignment so retries are bounded across restarts")
}

func TestMetadataExecutorPID(t *testing.T) {
	m := Metadata{}
	_, ok := m.ExecutorPID()
	assert.False(t, ok)

	m.SetExecutorPID(4242)
	pid, ok := m.ExecutorPID()
	assert.True(t, ok)
	assert.Equal(t, 4242, pid)
}

func TestMetadataGetIntAcceptsJSONNumberShapes(t *testing.T) {
	tests := []struct {
		name string
		val  any
	}{
		{"int", 7},
		{"int64", int64(7)},
		{"float64 from JSON decode", float64(7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Metadata{"n": tt.val}
			n, ok := m.GetInt("n")
			assert.True(t, ok)
			assert.Equal(t, 7, n)
		})
	}
}
