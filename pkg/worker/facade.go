package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/scientistigwe/pipelinecore/pkg/broker"
	"github.com/scientistigwe/pipelinecore/pkg/log"
	"github.com/scientistigwe/pipelinecore/pkg/types"
)

// cpmIdentity and serviceIdentity address the two components every
// department facade talks back to: the CPM for quality-issue events,
// the Pipeline Service for stage completion/error.
var (
	cpmIdentity     = types.ComponentIdentifier{Name: "control_point_manager", Type: types.ComponentControlPointManager, Role: "manager"}
	serviceIdentity = types.ComponentIdentifier{Name: "pipeline_service", Type: types.ComponentService, Role: "manager"}
)

// Request is the work order a Facade hands to a Handler on receipt of
// CONTROL_POINT_REACHED.
type Request struct {
	ControlPointID   string
	PipelineID       string
	Stage            types.Stage
	StagingReference string
	Metadata         map[string]any
}

// Result is what a Handler reports back. Non-empty QualityIssues
// triggers a QUALITY_ISSUES_DETECTED publish to the CPM in addition to
// the normal stage-complete notice; per spec.md §4.4 this is only
// meaningful from the quality department, but the facade does not
// enforce that -- the concrete handler decides whether it has
// anything to report.
type Result struct {
	QualityIssues []string
	Metadata      map[string]any
}

// Handler performs one department's concrete work for a control
// point. Handle must honor ctx cancellation: a cancelled pipeline's
// STAGE_CANCEL notice cancels the context passed to any Handle call
// still in flight for that control point.
type Handler interface {
	Handle(ctx context.Context, req Request) (Result, error)
}

// Facade is the subscribe/publish harness binding one department's
// Handler to the broker. It never invokes Handler directly from the
// broker's dispatch goroutine's caller -- Handle runs synchronously
// inside the callback, relying on the broker's worker pool for
// concurrency across control points.
type Facade struct {
	department types.Department
	identity   types.ComponentIdentifier
	broker     *broker.Broker
	handler    Handler
	logger     zerolog.Logger

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// NewFacade registers componentType/name as department's manager,
// subscribes it to its own address, and binds handler to every
// CONTROL_POINT_REACHED it receives.
func NewFacade(b *broker.Broker, department types.Department, componentType types.ComponentType, name string, handler Handler) (*Facade, error) {
	identity := types.ManagerIdentifier(department, componentType, name)
	identity, err := b.Register(identity)
	if err != nil {
		return nil, fmt.Errorf("worker: register %s: %w", name, err)
	}

	f := &Facade{
		department: department,
		identity:   identity,
		broker:     b,
		handler:    handler,
		logger:     log.WithComponent("worker." + name),
		cancels:    make(map[string]context.CancelFunc),
	}

	pattern := identity.Name + ".manager.*"
	if err := b.Subscribe(identity, pattern, f.onMessage); err != nil {
		return nil, fmt.Errorf("worker: subscribe %s: %w", name, err)
	}
	return f, nil
}

func (f *Facade) onMessage(msg types.Message) error {
	switch msg.Type {
	case types.MessageControlPointReached:
		return f.handleControlPointReached(msg)
	case types.MessageStageCancel:
		f.handleCancel(msg)
		return nil
	default:
		return nil
	}
}

func (f *Facade) handleControlPointReached(msg types.Message) error {
	req := Request{
		PipelineID: msg.CorrelationID,
		Stage:      types.Stage(stringField(msg.Content, "stage")),
	}
	if id, ok := msg.Content["control_point_id"].(string); ok {
		req.ControlPointID = id
	}
	if ref, ok := msg.Content["staging_reference"].(string); ok {
		req.StagingReference = ref
	}
	if meta, ok := msg.Content["metadata"].(map[string]any); ok {
		req.Metadata = meta
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancelMu.Lock()
	f.cancels[req.ControlPointID] = cancel
	f.cancelMu.Unlock()
	defer func() {
		f.cancelMu.Lock()
		delete(f.cancels, req.ControlPointID)
		f.cancelMu.Unlock()
		cancel()
	}()

	result, err := f.handler.Handle(ctx, req)
	if err != nil {
		f.logger.Error().Err(err).Str("control_point_id", req.ControlPointID).Msg("handler returned an error")
		return f.publishError(req, err)
	}

	if len(result.QualityIssues) > 0 {
		if pubErr := f.publishQualityIssues(req, result.QualityIssues); pubErr != nil {
			f.logger.Error().Err(pubErr).Msg("failed to publish quality issues")
		}
	}

	return f.publishComplete(req, result.Metadata)
}

func (f *Facade) handleCancel(msg types.Message) {
	id, _ := msg.Content["control_point_id"].(string)
	f.cancelMu.Lock()
	cancel, ok := f.cancels[id]
	f.cancelMu.Unlock()
	if ok {
		cancel()
	}
}

func (f *Facade) publishComplete(req Request, metadata map[string]any) error {
	_, err := f.broker.Publish(types.Message{
		Type:          types.MessageStageComplete,
		Source:        f.identity,
		Target:        serviceIdentity,
		CorrelationID: req.PipelineID,
		Content: map[string]any{
			"control_point_id": req.ControlPointID,
			"pipeline_id":      req.PipelineID,
			"stage":            string(req.Stage),
			"metadata":         metadata,
		},
	})
	return err
}

func (f *Facade) publishError(req Request, cause error) error {
	_, err := f.broker.Publish(types.Message{
		Type:          types.MessageStageError,
		Source:        f.identity,
		Target:        serviceIdentity,
		CorrelationID: req.PipelineID,
		Content: map[string]any{
			"control_point_id": req.ControlPointID,
			"pipeline_id":      req.PipelineID,
			"stage":            string(req.Stage),
			"error":            cause.Error(),
		},
	})
	return err
}

func (f *Facade) publishQualityIssues(req Request, issues []string) error {
	_, err := f.broker.Publish(types.Message{
		Type:          types.MessageQualityIssuesFound,
		Source:        f.identity,
		Target:        cpmIdentity,
		CorrelationID: req.PipelineID,
		Content: map[string]any{
			"control_point_id": req.ControlPointID,
			"issues":           issues,
		},
	})
	return err
}

func stringField(content map[string]any, key string) string {
	if v, ok := content[key].(string); ok {
		return v
	}
	return ""
}
