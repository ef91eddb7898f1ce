package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scientistigwe/pipelinecore/pkg/broker"
	"github.com/scientistigwe/pipelinecore/pkg/registry"
	"github.com/scientistigwe/pipelinecore/pkg/types"
)

func newTestBroker(t *testing.T) *broker.Broker {
	t.Helper()
	b := broker.New(registry.New(), broker.Options{Workers: 2, QueueDepth: 32})
	b.Start(2)
	t.Cleanup(b.Stop)
	return b
}

// subscribeAsRegistered registers identity before subscribing so the
// subscription lands directly in the broker's active set instead of
// sitting pending for a registration that these tests never perform
// (the real registrants are pkg/service and pkg/cpm).
func subscribeAsRegistered(t *testing.T, b *broker.Broker, identity types.ComponentIdentifier, pattern string, cb func(types.Message) error) {
	t.Helper()
	_, err := b.Register(identity)
	require.NoError(t, err)
	require.NoError(t, b.Subscribe(identity, pattern, cb))
}

type capture struct {
	mu   sync.Mutex
	msgs []types.Message
}

func (c *capture) record(msg types.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *capture) waitForCount(t *testing.T, n int) []types.Message {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.msgs) >= n {
			out := append([]types.Message(nil), c.msgs...)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d captured messages", n)
	return nil
}

func TestFacadePublishesCompleteOnSuccess(t *testing.T) {
	b := newTestBroker(t)

	svc := &capture{}
	subscribeAsRegistered(t, b, serviceIdentity, "pipeline_service.manager.*", svc.record)

	_, err := NewFacade(b, types.DepartmentQuality, types.ComponentQualityManager, "quality_manager", EchoHandler{})
	require.NoError(t, err)

	_, err = b.Publish(types.Message{
		Type:          types.MessageControlPointReached,
		Target:        types.ComponentIdentifier{Name: "quality_manager", Role: "manager"},
		CorrelationID: "pipeline-1",
		Content: map[string]any{
			"control_point_id": "cp-1",
			"stage":            string(types.StageQualityCheck),
		},
	})
	require.NoError(t, err)

	msgs := svc.waitForCount(t, 1)
	assert.Equal(t, types.MessageStageComplete, msgs[0].Type)
	assert.Equal(t, "cp-1", msgs[0].Content["control_point_id"])
}

func TestFacadePublishesQualityIssuesToCPM(t *testing.T) {
	b := newTestBroker(t)

	cpm := &capture{}
	subscribeAsRegistered(t, b, cpmIdentity, "control_point_manager.manager.*", cpm.record)
	svc := &capture{}
	subscribeAsRegistered(t, b, serviceIdentity, "pipeline_service.manager.*", svc.record)

	_, err := NewFacade(b, types.DepartmentQuality, types.ComponentQualityManager, "quality_manager", EchoHandler{QualityIssues: []string{"missing_column"}})
	require.NoError(t, err)

	_, err = b.Publish(types.Message{
		Type:          types.MessageControlPointReached,
		Target:        types.ComponentIdentifier{Name: "quality_manager", Role: "manager"},
		CorrelationID: "pipeline-2",
		Content:       map[string]any{"control_point_id": "cp-2", "stage": string(types.StageQualityCheck)},
	})
	require.NoError(t, err)

	cpmMsgs := cpm.waitForCount(t, 1)
	assert.Equal(t, types.MessageQualityIssuesFound, cpmMsgs[0].Type)
	svc.waitForCount(t, 1)
}

type erroringHandler struct{ err error }

func (e erroringHandler) Handle(ctx context.Context, req Request) (Result, error) {
	return Result{}, e.err
}

func TestFacadePublishesErrorOnHandlerFailure(t *testing.T) {
	b := newTestBroker(t)

	svc := &capture{}
	subscribeAsRegistered(t, b, serviceIdentity, "pipeline_service.manager.*", svc.record)

	_, err := NewFacade(b, types.DepartmentInsight, types.ComponentInsightManager, "insight_manager", erroringHandler{err: errors.New("boom")})
	require.NoError(t, err)

	_, err = b.Publish(types.Message{
		Type:          types.MessageControlPointReached,
		Target:        types.ComponentIdentifier{Name: "insight_manager", Role: "manager"},
		CorrelationID: "pipeline-3",
		Content:       map[string]any{"control_point_id": "cp-3", "stage": string(types.StageInsightGeneration)},
	})
	require.NoError(t, err)

	msgs := svc.waitForCount(t, 1)
	assert.Equal(t, types.MessageStageError, msgs[0].Type)
	assert.Equal(t, "boom", msgs[0].Content["error"])
}
