package cpm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scientistigwe/pipelinecore/pkg/broker"
	"github.com/scientistigwe/pipelinecore/pkg/registry"
	"github.com/scientistigwe/pipelinecore/pkg/types"
)

func newTestManager(t *testing.T, opts Options) (*Manager, *broker.Broker) {
	t.Helper()
	b := broker.New(registry.New(), broker.Options{Workers: 2, QueueDepth: 64})
	b.Start(2)
	t.Cleanup(b.Stop)

	mgr, err := NewManager(b, opts)
	require.NoError(t, err)
	return mgr, b
}

func TestCreatePipelineStartsAtReception(t *testing.T) {
	mgr, _ := newTestManager(t, Options{})

	ctx, cp, err := mgr.CreatePipeline("ingest-run-1", map[string]any{"source": "csv"})
	require.NoError(t, err)

	assert.Equal(t, types.StageReception, ctx.CurrentStage)
	assert.Equal(t, types.PipelineStatusRunning, ctx.Status)
	assert.Equal(t, types.StageReception, cp.Stage)
	assert.False(t, cp.RequiresDecision)
}

func TestHappyPathReachesCompletion(t *testing.T) {
	mgr, _ := newTestManager(t, Options{})

	_, cp, err := mgr.CreatePipeline("ingest-run-2", nil)
	require.NoError(t, err)

	// Every stage's first transition candidate advances forward, so
	// auto-advancing (no decision required, no quality issues raised)
	// walks the whole table to COMPLETION.
	current := cp
	for i := 0; i < len(types.AllStages)+1 && current.Stage != types.StageCompletion; i++ {
		next, err := mgr.AdvanceStage(current.ID, nil)
		require.NoError(t, err)
		current = next
	}
	require.Equal(t, types.StageCompletion, current.Stage)

	status, err := mgr.GetPipelineStatus(current.PipelineID)
	require.NoError(t, err)
	assert.Equal(t, types.PipelineStatusCompleted, status.Status)
	assert.NotEmpty(t, status.History)
}

func TestQualityIssuesCreateUserReviewControlPoint(t *testing.T) {
	mgr, _ := newTestManager(t, Options{})

	_, cp, err := mgr.CreatePipeline("ingest-run-3", nil)
	require.NoError(t, err)

	// advance to QUALITY_CHECK
	qualityCP, err := mgr.AdvanceStage(cp.ID, nil)
	require.NoError(t, err)
	require.Equal(t, types.StageValidation, qualityCP.Stage)
	qualityCP, err = mgr.AdvanceStage(qualityCP.ID, nil)
	require.NoError(t, err)
	require.Equal(t, types.StageQualityCheck, qualityCP.Stage)

	review, err := mgr.HandleQualityIssues(qualityCP.ID, []string{"missing_column"})
	require.NoError(t, err)
	assert.Equal(t, types.StageUserReview, review.Stage)
	assert.Equal(t, qualityCP.ID, review.ParentControlPoint)
	assert.Equal(t, "quality_review", review.Metadata["review_type"])

	reworked, err := mgr.ProcessDecision(review.ID, types.Decision{Type: types.DecisionRework, ReworkStage: types.StageQualityCheck, Reason: "bad header"})
	require.NoError(t, err)
	assert.Equal(t, types.StageQualityCheck, reworked.Stage)
	assert.Equal(t, 1, reworked.RetryCount)
}

func TestRejectionSetsPipelineRejected(t *testing.T) {
	mgr, _ := newTestManager(t, Options{})

	_, cp, err := mgr.CreatePipeline("ingest-run-4", nil)
	require.NoError(t, err)

	rejected, err := mgr.ProcessDecision(cp.ID, types.Decision{Type: types.DecisionReject, Reason: "invalid source"})
	require.NoError(t, err)
	assert.Equal(t, types.ControlPointRejected, rejected.Status)

	status, err := mgr.GetPipelineStatus(cp.PipelineID)
	require.NoError(t, err)
	assert.Equal(t, types.PipelineStatusRejected, status.Status)
}

func TestReviewLoopLimitFailsPipeline(t *testing.T) {
	mgr, _ := newTestManager(t, Options{ReviewLoopLimit: 2})

	_, cp, err := mgr.CreatePipeline("ingest-run-5", nil)
	require.NoError(t, err)

	validation, err := mgr.AdvanceStage(cp.ID, nil)
	require.NoError(t, err)
	quality, err := mgr.AdvanceStage(validation.ID, nil)
	require.NoError(t, err)

	cur := quality
	for i := 0; i < 2; i++ {
		review, err := mgr.HandleQualityIssues(cur.ID, []string{"issue"})
		require.NoError(t, err)
		cur, err = mgr.ProcessDecision(review.ID, types.Decision{Type: types.DecisionRework, ReworkStage: types.StageQualityCheck})
		require.NoError(t, err)
	}

	_, err = mgr.HandleQualityIssues(cur.ID, []string{"issue"})
	assert.ErrorIs(t, err, ErrReviewLoopExceeded)

	status, err := mgr.GetPipelineStatus(cur.PipelineID)
	require.NoError(t, err)
	assert.Equal(t, types.PipelineStatusFailed, status.Status)
	assert.Equal(t, "review_loop_exceeded", status.ErrorKind)
}

func TestTimeoutMonitorRetriesThenFails(t *testing.T) {
	mgr, _ := newTestManager(t, Options{MaxRetries: 1})

	_, cp, err := mgr.CreatePipeline("ingest-run-6", nil)
	require.NoError(t, err)

	state, ok := mgr.lookupPipeline(cp.PipelineID)
	require.True(t, ok)
	state.mu.Lock()
	stuck := state.active[cp.ID]
	stuck.Timeout = 10 * time.Millisecond
	stuck.CreatedAt = time.Now().Add(-time.Hour)
	state.active[cp.ID] = stuck
	state.mu.Unlock()

	monitor := NewTimeoutMonitor(mgr, time.Millisecond)
	monitor.sweep()

	state.mu.Lock()
	retried := state.active[cp.ID]
	retried.CreatedAt = time.Now().Add(-time.Hour)
	state.active[cp.ID] = retried
	state.mu.Unlock()

	monitor.sweep()

	status, err := mgr.GetPipelineStatus(cp.PipelineID)
	require.NoError(t, err)
	assert.Equal(t, types.PipelineStatusFailed, status.Status)
	assert.Equal(t, "timeout", status.ErrorKind)
}

func TestPerPipelineLocksAreIndependent(t *testing.T) {
	mgr, _ := newTestManager(t, Options{})

	_, cpA, err := mgr.CreatePipeline("ingest-run-a", nil)
	require.NoError(t, err)
	_, cpB, err := mgr.CreatePipeline("ingest-run-b", nil)
	require.NoError(t, err)

	done := make(chan struct{}, 2)
	go func() {
		_, _ = mgr.AdvanceStage(cpA.ID, nil)
		done <- struct{}{}
	}()
	go func() {
		_, _ = mgr.AdvanceStage(cpB.ID, nil)
		done <- struct{}{}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first advance")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second advance")
	}
}
