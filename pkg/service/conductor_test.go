package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scientistigwe/pipelinecore/pkg/broker"
	"github.com/scientistigwe/pipelinecore/pkg/cpm"
	"github.com/scientistigwe/pipelinecore/pkg/registry"
	"github.com/scientistigwe/pipelinecore/pkg/staging"
	"github.com/scientistigwe/pipelinecore/pkg/types"
)

func newTestConductor(t *testing.T) (*Conductor, *broker.Broker, *cpm.Manager, *staging.Manager) {
	t.Helper()

	b := broker.New(registry.New(), broker.Options{Workers: 2, QueueDepth: 64})
	b.Start(2)
	t.Cleanup(b.Stop)

	cpmMgr, err := cpm.NewManager(b, cpm.Options{})
	require.NoError(t, err)

	store, err := staging.OpenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	stagingMgr, err := staging.NewManager(store, b)
	require.NoError(t, err)

	conductor, err := NewConductor(b, cpmMgr, stagingMgr)
	require.NoError(t, err)

	return conductor, b, cpmMgr, stagingMgr
}

func TestCreatePipelineValidatesConfig(t *testing.T) {
	conductor, _, _, _ := newTestConductor(t)

	_, err := conductor.CreatePipeline(PipelineConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = conductor.CreatePipeline(PipelineConfig{Name: "run-1"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCreatePipelineReturnsFirstControlPoint(t *testing.T) {
	conductor, _, _, _ := newTestConductor(t)

	record, err := conductor.CreatePipeline(PipelineConfig{
		Name:          "run-1",
		StageSequence: []types.Stage{types.StageReception, types.StageValidation},
		UserID:        "alice",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, record.PipelineID)
	assert.NotEmpty(t, record.ControlPointID)
	assert.Equal(t, types.PipelineStatusRunning, record.Status)

	view, err := conductor.GetStatus(record.PipelineID)
	require.NoError(t, err)
	assert.Equal(t, types.StageReception, view.ControlPoint.CurrentStage)
}

func TestStartPipelineWithStagedInputJumpsToQualityCheck(t *testing.T) {
	conductor, _, _, stagingMgr := newTestConductor(t)

	record, err := conductor.CreatePipeline(PipelineConfig{
		Name:          "run-2",
		StageSequence: []types.Stage{types.StageReception},
	})
	require.NoError(t, err)

	producer := types.ComponentIdentifier{Name: "external_loader", Role: "manager"}
	entry, err := stagingMgr.Store("stage-input-1", record.PipelineID, producer, []byte("csv,data"), "csv", 0)
	require.NoError(t, err)

	cp, err := conductor.StartPipeline(record.PipelineID, entry.StageID)
	require.NoError(t, err)
	assert.Equal(t, types.StageQualityCheck, cp.Stage)
	assert.Equal(t, entry.StageID, cp.StagingReference)
}

func TestStartPipelineWithoutStagedIDReturnsExistingControlPoint(t *testing.T) {
	conductor, _, _, _ := newTestConductor(t)

	record, err := conductor.CreatePipeline(PipelineConfig{
		Name:          "run-3",
		StageSequence: []types.Stage{types.StageReception},
	})
	require.NoError(t, err)

	cp, err := conductor.StartPipeline(record.PipelineID, "")
	require.NoError(t, err)
	assert.Equal(t, record.ControlPointID, cp.ID)
}

func TestHandleComponentCompleteAdvancesStage(t *testing.T) {
	conductor, b, _, _ := newTestConductor(t)

	record, err := conductor.CreatePipeline(PipelineConfig{
		Name:          "run-4",
		StageSequence: []types.Stage{types.StageReception, types.StageValidation},
	})
	require.NoError(t, err)

	_, err = b.Publish(types.Message{
		Type:          types.MessageStageComplete,
		Source:        types.ComponentIdentifier{Name: "pipeline_service", Role: "manager"},
		Target:        types.ComponentIdentifier{Name: "pipeline_service", Role: "manager"},
		CorrelationID: record.PipelineID,
		Content: map[string]any{
			"control_point_id": record.ControlPointID,
			"stage":            string(types.StageReception),
		},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		view, err := conductor.GetStatus(record.PipelineID)
		return err == nil && view.ControlPoint.CurrentStage == types.StageValidation
	}, waitTimeout, pollInterval)
}

func TestHandleComponentErrorRejectsPipeline(t *testing.T) {
	conductor, b, _, _ := newTestConductor(t)

	record, err := conductor.CreatePipeline(PipelineConfig{
		Name:          "run-5",
		StageSequence: []types.Stage{types.StageReception},
	})
	require.NoError(t, err)

	_, err = b.Publish(types.Message{
		Type:          types.MessageStageError,
		Source:        types.ComponentIdentifier{Name: "pipeline_service", Role: "manager"},
		Target:        types.ComponentIdentifier{Name: "pipeline_service", Role: "manager"},
		CorrelationID: record.PipelineID,
		Content: map[string]any{
			"control_point_id": record.ControlPointID,
			"error":            "parser crashed",
		},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		view, err := conductor.GetStatus(record.PipelineID)
		return err == nil && view.ControlPoint.Status == types.PipelineStatusRejected
	}, waitTimeout, pollInterval)
}

func TestListPipelinesFiltersByUser(t *testing.T) {
	conductor, _, _, _ := newTestConductor(t)

	_, err := conductor.CreatePipeline(PipelineConfig{
		Name: "run-6", StageSequence: []types.Stage{types.StageReception}, UserID: "alice",
	})
	require.NoError(t, err)
	_, err = conductor.CreatePipeline(PipelineConfig{
		Name: "run-7", StageSequence: []types.Stage{types.StageReception}, UserID: "bob",
	})
	require.NoError(t, err)

	assert.Len(t, conductor.ListPipelines("alice"), 1)
	assert.Len(t, conductor.ListPipelines(""), 2)
}

func TestCancelPipelineMarksCancelled(t *testing.T) {
	conductor, _, _, _ := newTestConductor(t)

	record, err := conductor.CreatePipeline(PipelineConfig{
		Name: "run-8", StageSequence: []types.Stage{types.StageReception},
	})
	require.NoError(t, err)

	require.NoError(t, conductor.CancelPipeline(record.PipelineID))

	view, err := conductor.GetStatus(record.PipelineID)
	require.NoError(t, err)
	assert.Equal(t, types.PipelineStatusCancelled, view.ControlPoint.Status)
}

// recordStatus looks up pipelineID's Conductor-side record without
// touching the CPM, so it exercises only what the broker notification
// itself delivered -- unlike GetStatus, which always re-pulls ground
// truth from the CPM and would mask a broken notification path.
func recordStatus(conductor *Conductor, pipelineID string) (types.PipelineStatus, bool) {
	for _, r := range conductor.ListPipelines("") {
		if r.PipelineID == pipelineID {
			return r.Status, true
		}
	}
	return "", false
}

func TestCPMCancelNotifiesConductorViaBroker(t *testing.T) {
	conductor, _, cpmMgr, _ := newTestConductor(t)

	record, err := conductor.CreatePipeline(PipelineConfig{
		Name: "run-9", StageSequence: []types.Stage{types.StageReception},
	})
	require.NoError(t, err)

	// Cancel through the CPM directly, bypassing CancelPipeline's own
	// local update, so only the broker notification can move the record.
	require.NoError(t, cpmMgr.Cancel(record.PipelineID))

	require.Eventually(t, func() bool {
		status, ok := recordStatus(conductor, record.PipelineID)
		return ok && status == types.PipelineStatusCancelled
	}, waitTimeout, pollInterval)
}

func TestCPMRejectNotifiesConductorViaBroker(t *testing.T) {
	conductor, _, cpmMgr, _ := newTestConductor(t)

	record, err := conductor.CreatePipeline(PipelineConfig{
		Name: "run-10", StageSequence: []types.Stage{types.StageReception},
	})
	require.NoError(t, err)

	_, err = cpmMgr.ProcessDecision(record.ControlPointID, types.Decision{
		Type:   types.DecisionReject,
		Reason: "bad input",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, ok := recordStatus(conductor, record.PipelineID)
		return ok && status == types.PipelineStatusRejected
	}, waitTimeout, pollInterval)
}

func TestRouteRegistryNextStagesHonorsConditions(t *testing.T) {
	routes := NewRouteRegistry()
	routes.Register(types.Route{
		Source:  types.StageDecisionMaking,
		Targets: []types.Stage{types.StageRecommendation},
		Type:    types.RouteConditional,
		Conditions: map[string]string{
			"confidence": "high",
		},
	})
	routes.Register(types.Route{
		Source:  types.StageDecisionMaking,
		Targets: []types.Stage{types.StageReportGeneration},
		Type:    types.RouteConditional,
		Conditions: map[string]string{
			"confidence": "low",
		},
	})

	high := routes.NextStages(types.StageDecisionMaking, map[string]any{"confidence": "high"})
	assert.Equal(t, []types.Stage{types.StageRecommendation}, high)

	low := routes.NextStages(types.StageDecisionMaking, map[string]any{"confidence": "low"})
	assert.Equal(t, []types.Stage{types.StageReportGeneration}, low)
}

func TestRouteRegistryExecutionLifecycle(t *testing.T) {
	routes := NewRouteRegistry()
	routes.Register(types.Route{
		Source:  types.StageContextAnalysis,
		Targets: []types.Stage{types.StageInsightGeneration, types.StageAdvancedAnalytics},
		Type:    types.RouteParallel,
	})

	execID := routes.StartExecution("pipeline-1", types.RouteParallel, []types.Stage{types.StageContextAnalysis})

	next, err := routes.UpdateExecution(execID, types.StageContextAnalysis, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.Stage{types.StageInsightGeneration, types.StageAdvancedAnalytics}, next)

	routes.CompleteExecution(execID, "completed")
	view, ok := routes.ExecutionStatus(execID)
	require.True(t, ok)
	assert.Equal(t, "completed", view.Status)

	total, completed, failed := routes.Metrics()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, completed)
	assert.Equal(t, 0, failed)
}
