package cpm

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scientistigwe/pipelinecore/pkg/broker"
	"github.com/scientistigwe/pipelinecore/pkg/log"
	"github.com/scientistigwe/pipelinecore/pkg/metrics"
	"github.com/scientistigwe/pipelinecore/pkg/types"
)

// DefaultTimeout is a control point's timeout when none is specified.
const DefaultTimeout = 60 * time.Minute

// DefaultMaxRetries is how many times the timeout monitor re-issues a
// stage's request before failing the pipeline.
const DefaultMaxRetries = 3

// DefaultReviewLoopLimit caps how many times one stage may be sent
// through USER_REVIEW before the pipeline is short-circuited to FAILED.
const DefaultReviewLoopLimit = 3

// Options configures a Manager's defaults.
type Options struct {
	DefaultTimeout  time.Duration
	MaxRetries      int
	ReviewLoopLimit int
}

func (o Options) withDefaults() Options {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.ReviewLoopLimit <= 0 {
		o.ReviewLoopLimit = DefaultReviewLoopLimit
	}
	return o
}

// pipelineState is one pipeline's mutable state plus the lock
// serializing every mutation applied to it. Pipelines never share a
// lock, so unrelated pipelines progress concurrently (spec.md §5
// "Ordering").
type pipelineState struct {
	mu          sync.Mutex
	context     types.PipelineContext
	active      map[string]types.ControlPoint
	history     []types.ControlPoint
	reviewLoops map[types.Stage]int
}

// Manager is the Control-Point Manager.
type Manager struct {
	broker   *broker.Broker
	identity types.ComponentIdentifier
	logger   zerolog.Logger
	opts     Options

	pipelinesMu sync.RWMutex
	pipelines   map[string]*pipelineState

	cpIndexMu sync.RWMutex
	cpIndex   map[string]string // control_point_id -> pipeline_id
}

// NewManager constructs a Manager, registers it with b under the
// control_point_manager identity, and subscribes it to inbound
// decision and quality-issue messages.
func NewManager(b *broker.Broker, opts Options) (*Manager, error) {
	identity := types.ComponentIdentifier{
		Name: "control_point_manager",
		Type: types.ComponentControlPointManager,
		Role: "manager",
	}
	identity, err := b.Register(identity)
	if err != nil {
		return nil, fmt.Errorf("cpm: register with broker: %w", err)
	}

	m := &Manager{
		broker:    b,
		identity:  identity,
		logger:    log.WithComponent("cpm"),
		opts:      opts.withDefaults(),
		pipelines: make(map[string]*pipelineState),
		cpIndex:   make(map[string]string),
	}

	if err := b.Subscribe(identity, "control_point_manager.manager.*", m.handleInbound); err != nil {
		return nil, fmt.Errorf("cpm: subscribe: %w", err)
	}
	return m, nil
}

func (m *Manager) handleInbound(msg types.Message) error {
	switch msg.Type {
	case types.MessageUserDecisionSubmit:
		cpID, _ := msg.Content["control_point_id"].(string)
		decision := decisionFromContent(msg.Content)
		_, err := m.ProcessDecision(cpID, decision)
		return err
	case types.MessageQualityIssuesFound:
		cpID, _ := msg.Content["control_point_id"].(string)
		_, err := m.HandleQualityIssues(cpID, msg.Content["issues"])
		return err
	default:
		return nil
	}
}

func decisionFromContent(content map[string]any) types.Decision {
	d := types.Decision{AppliedAt: time.Now()}
	if raw, ok := content["decision"].(map[string]any); ok {
		if t, ok := raw["type"].(string); ok {
			d.Type = types.DecisionType(t)
		}
		if s, ok := raw["rework_stage"].(string); ok {
			d.ReworkStage = types.Stage(s)
		}
		if r, ok := raw["reason"].(string); ok {
			d.Reason = r
		}
	}
	return d
}

// CreatePipeline allocates a PipelineContext starting at RECEPTION and
// returns it alongside its first control point.
func (m *Manager) CreatePipeline(name string, metadata map[string]any) (types.PipelineContext, types.ControlPoint, error) {
	return m.CreatePipelineAt(name, metadata, types.StageReception, "")
}

// CreatePipelineAt allocates a PipelineContext and opens its first
// control point at startStage instead of always RECEPTION, recording
// stagingReference on it. CreatePipeline calls it with RECEPTION.
func (m *Manager) CreatePipelineAt(name string, metadata map[string]any, startStage types.Stage, stagingReference string) (types.PipelineContext, types.ControlPoint, error) {
	now := time.Now()
	pipelineID := uuid.NewString()

	state := &pipelineState{
		context: types.PipelineContext{
			PipelineID:        pipelineID,
			Name:              name,
			CurrentStage:      startStage,
			Status:            types.PipelineStatusPending,
			StageSequence:     append([]types.Stage(nil), types.AllStages...),
			StageDependencies: stageDependencies(),
			ComponentStates:   make(map[types.Department]string),
			Metadata:          metadata,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
		active:      make(map[string]types.ControlPoint),
		reviewLoops: make(map[types.Stage]int),
	}

	m.pipelinesMu.Lock()
	m.pipelines[pipelineID] = state
	m.pipelinesMu.Unlock()

	state.mu.Lock()
	defer state.mu.Unlock()
	state.context.Status = types.PipelineStatusRunning

	cp, err := m.createControlPointLocked(state, startStage, metadata, stagingReference, false, "")
	if err != nil {
		return types.PipelineContext{}, types.ControlPoint{}, err
	}
	return state.context, cp, nil
}

// CreateControlPoint builds and publishes a control point for stage
// within pipelineID. requiresDecision is false for stages whose
// completion advances the pipeline automatically (see AdvanceStage).
func (m *Manager) CreateControlPoint(pipelineID string, stage types.Stage, metadata map[string]any, stagingReference string, requiresDecision bool, parent string) (types.ControlPoint, error) {
	state, ok := m.lookupPipeline(pipelineID)
	if !ok {
		return types.ControlPoint{}, ErrPipelineNotFound
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return m.createControlPointLocked(state, stage, metadata, stagingReference, requiresDecision, parent)
}

// createControlPointLocked must be called with state.mu held.
func (m *Manager) createControlPointLocked(state *pipelineState, stage types.Stage, metadata map[string]any, stagingReference string, requiresDecision bool, parent string) (types.ControlPoint, error) {
	department, ok := stageDepartments[stage]
	if !ok {
		return types.ControlPoint{}, ErrUnknownDepartment
	}
	module, err := assignedModule(stage)
	if err != nil {
		return types.ControlPoint{}, err
	}

	now := time.Now()
	cp := types.ControlPoint{
		ID:                 uuid.NewString(),
		PipelineID:         state.context.PipelineID,
		Stage:              stage,
		Department:         department,
		AssignedModule:     module,
		Status:             types.ControlPointPending,
		RequiresDecision:   requiresDecision,
		NextStages:         append([]types.Stage(nil), stageTransitions[stage]...),
		StagingReference:   stagingReference,
		ParentControlPoint: parent,
		Metadata:           metadata,
		Timeout:            m.opts.DefaultTimeout,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	state.active[cp.ID] = cp
	state.context.CurrentStage = stage
	state.context.UpdatedAt = now
	state.context.ComponentStates[department] = string(types.ControlPointPending)

	m.cpIndexMu.Lock()
	m.cpIndex[cp.ID] = state.context.PipelineID
	m.cpIndexMu.Unlock()

	metrics.ControlPointsCreated.WithLabelValues(string(department), string(stage)).Inc()

	if err := m.publishControlPointReached(cp); err != nil {
		m.logger.Error().Err(err).Str("control_point_id", cp.ID).Msg("failed to publish control point reached")
	}
	return cp, nil
}

func (m *Manager) publishControlPointReached(cp types.ControlPoint) error {
	_, err := m.broker.Publish(types.Message{
		Type:          types.MessageControlPointReached,
		Source:        m.identity,
		Target:        cp.AssignedModule,
		CorrelationID: cp.PipelineID,
		Content: map[string]any{
			"control_point_id": cp.ID,
			"pipeline_id":       cp.PipelineID,
			"stage":             string(cp.Stage),
			"requires_decision": cp.RequiresDecision,
			"metadata":          cp.Metadata,
			"staging_reference": cp.StagingReference,
		},
		Metadata: types.MessageMetadata{
			SourceComponent: m.identity.Name,
			TargetComponent: cp.AssignedModule.Name,
			DomainType:      cp.Department,
			ProcessingStage: cp.Stage,
			CorrelationID:   cp.PipelineID,
		},
	})
	return err
}

// ProcessDecision applies an inbound USER_DECISION_SUBMITTED to the
// named control point: approve advances to the first transition
// candidate, rework returns to an earlier stage, reject terminates the
// pipeline. Returns the control point approve or rework opened; when
// approve completes the pipeline, the archived final control point;
// on reject, the rejected control point itself.
func (m *Manager) ProcessDecision(controlPointID string, decision types.Decision) (types.ControlPoint, error) {
	pipelineID, ok := m.lookupControlPointPipeline(controlPointID)
	if !ok {
		return types.ControlPoint{}, ErrControlPointNotFound
	}
	state, ok := m.lookupPipeline(pipelineID)
	if !ok {
		return types.ControlPoint{}, ErrPipelineNotFound
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	cp, ok := state.active[controlPointID]
	if !ok {
		return types.ControlPoint{}, ErrControlPointNotFound
	}

	decision.AppliedAt = time.Now()
	cp.Decisions = append(cp.Decisions, decision)
	cp.UpdatedAt = time.Now()
	state.active[controlPointID] = cp

	switch decision.Type {
	case types.DecisionApprove:
		candidates := stageTransitions[cp.Stage]
		if len(candidates) == 0 {
			return m.completePipelineLocked(state, cp)
		}
		return m.proceedLocked(state, cp, candidates[0], nil)

	case types.DecisionRework:
		target := decision.ReworkStage
		if target == "" {
			target = cp.Stage
		}
		return m.reworkLocked(state, cp, target, map[string]any{"rework_reason": decision.Reason})

	case types.DecisionReject:
		return m.rejectLocked(state, cp, decision.Reason)

	default:
		return types.ControlPoint{}, ErrInvalidDecision
	}
}

// AdvanceStage is called by the Pipeline Service when a processor's
// completion message arrives for a control point that does not
// require an external decision: it behaves exactly like an "approve"
// decision, taking the first transition candidate.
func (m *Manager) AdvanceStage(controlPointID string, resultMetadata map[string]any) (types.ControlPoint, error) {
	pipelineID, ok := m.lookupControlPointPipeline(controlPointID)
	if !ok {
		return types.ControlPoint{}, ErrControlPointNotFound
	}
	state, ok := m.lookupPipeline(pipelineID)
	if !ok {
		return types.ControlPoint{}, ErrPipelineNotFound
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	cp, ok := state.active[controlPointID]
	if !ok {
		return types.ControlPoint{}, ErrControlPointNotFound
	}

	candidates := stageTransitions[cp.Stage]
	if len(candidates) == 0 {
		return m.completePipelineLocked(state, cp)
	}
	return m.proceedLocked(state, cp, candidates[0], resultMetadata)
}

func (m *Manager) proceedLocked(state *pipelineState, cp types.ControlPoint, target types.Stage, extra map[string]any) (types.ControlPoint, error) {
	if target == types.StageUserReview {
		if blocked, err := m.checkReviewLoopLocked(state, cp.Stage); blocked {
			return types.ControlPoint{}, err
		}
	}

	m.archiveControlPointLocked(state, cp)

	merged := mergeMetadata(cp.Metadata, extra)
	merged["previous_control_point"] = cp.ID

	requiresDecision := target == types.StageUserReview
	newCP, err := m.createControlPointLocked(state, target, merged, cp.StagingReference, requiresDecision, cp.ID)
	if err != nil {
		return types.ControlPoint{}, err
	}

	if target == types.StageCompletion {
		return m.completePipelineLocked(state, newCP)
	}
	return newCP, nil
}

func (m *Manager) reworkLocked(state *pipelineState, cp types.ControlPoint, target types.Stage, extra map[string]any) (types.ControlPoint, error) {
	if target == types.StageUserReview {
		if blocked, err := m.checkReviewLoopLocked(state, cp.Stage); blocked {
			return types.ControlPoint{}, err
		}
	}

	m.archiveControlPointLocked(state, cp)

	merged := mergeMetadata(cp.Metadata, extra)
	merged["retry_of"] = cp.ID

	newCP, err := m.createControlPointLocked(state, target, merged, cp.StagingReference, true, cp.ID)
	if err != nil {
		return types.ControlPoint{}, err
	}
	newCP.RetryCount = cp.RetryCount + 1
	state.active[newCP.ID] = newCP

	metrics.ReviewLoopsTotal.WithLabelValues(string(stageDepartments[target]), string(target)).Inc()
	return newCP, nil
}

func (m *Manager) rejectLocked(state *pipelineState, cp types.ControlPoint, reason string) (types.ControlPoint, error) {
	cp.Status = types.ControlPointRejected
	cp.UpdatedAt = time.Now()
	state.active[cp.ID] = cp

	state.context.Status = types.PipelineStatusRejected
	state.context.ErrorKind = "rejected"
	state.context.ErrorMessage = reason
	state.context.UpdatedAt = time.Now()

	m.logger.Info().Str("pipeline_id", cp.PipelineID).Str("control_point_id", cp.ID).
		Str("reason", reason).Msg("pipeline rejected")

	_, pubErr := m.broker.Publish(types.Message{
		Type:          types.MessagePipelineRejected,
		Source:        m.identity,
		Target:        serviceIdentity(),
		CorrelationID: cp.PipelineID,
		Content:       map[string]any{"control_point_id": cp.ID, "reason": reason},
	})
	if pubErr != nil {
		m.logger.Error().Err(pubErr).Msg("failed to publish pipeline rejection")
	}
	return cp, nil
}

func (m *Manager) completePipelineLocked(state *pipelineState, cp types.ControlPoint) (types.ControlPoint, error) {
	cp.Status = types.ControlPointApproved
	cp.UpdatedAt = time.Now()
	m.archiveControlPointLocked(state, cp)

	state.context.Status = types.PipelineStatusCompleted
	state.context.LastCompletedStage = cp.Stage
	state.context.UpdatedAt = time.Now()

	metrics.PipelinesTotal.WithLabelValues(string(types.PipelineStatusCompleted)).Inc()
	metrics.PipelineDuration.WithLabelValues("completed").Observe(state.context.UpdatedAt.Sub(state.context.CreatedAt).Seconds())

	_, pubErr := m.broker.Publish(types.Message{
		Type:          types.MessagePipelineCompleted,
		Source:        m.identity,
		Target:        serviceIdentity(),
		CorrelationID: cp.PipelineID,
		Content:       map[string]any{"pipeline_id": cp.PipelineID},
	})
	if pubErr != nil {
		m.logger.Error().Err(pubErr).Msg("failed to publish pipeline completion")
	}
	return cp, nil
}

// checkReviewLoopLocked increments the loop counter for fromStage and
// reports whether the pipeline must be failed instead of entering
// another USER_REVIEW.
func (m *Manager) checkReviewLoopLocked(state *pipelineState, fromStage types.Stage) (bool, error) {
	state.reviewLoops[fromStage]++
	if state.reviewLoops[fromStage] <= m.opts.ReviewLoopLimit {
		return false, nil
	}

	state.context.Status = types.PipelineStatusFailed
	state.context.ErrorKind = "review_loop_exceeded"
	state.context.ErrorMessage = fmt.Sprintf("stage %s exceeded review loop limit %d", fromStage, m.opts.ReviewLoopLimit)
	state.context.UpdatedAt = time.Now()
	metrics.PipelinesTotal.WithLabelValues(string(types.PipelineStatusFailed)).Inc()

	m.logger.Warn().Str("pipeline_id", state.context.PipelineID).Str("stage", string(fromStage)).
		Msg("review loop limit exceeded, failing pipeline")
	return true, ErrReviewLoopExceeded
}

// archiveControlPointLocked appends cp to the pipeline's history in
// completion order and deletes it from the active set. A control
// point is either active or archived, never both.
func (m *Manager) archiveControlPointLocked(state *pipelineState, cp types.ControlPoint) {
	state.history = append(state.history, cp)
	delete(state.active, cp.ID)

	m.cpIndexMu.Lock()
	delete(m.cpIndex, cp.ID)
	m.cpIndexMu.Unlock()

	metrics.ControlPointsArchived.WithLabelValues(string(cp.Department), string(cp.Stage)).Inc()
}

// HandleQualityIssues creates an ad-hoc USER_REVIEW control point
// whose parent is the detecting control point; the review's approval
// resumes the original flow. Unlike proceedLocked, it leaves the
// detecting control point active rather than archiving it first, so
// the pipeline briefly holds two active control points -- the same
// resolution _handle_quality_issues makes in the original.
func (m *Manager) HandleQualityIssues(controlPointID string, issues any) (types.ControlPoint, error) {
	pipelineID, ok := m.lookupControlPointPipeline(controlPointID)
	if !ok {
		return types.ControlPoint{}, ErrControlPointNotFound
	}
	state, ok := m.lookupPipeline(pipelineID)
	if !ok {
		return types.ControlPoint{}, ErrPipelineNotFound
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	detecting, ok := state.active[controlPointID]
	if !ok {
		return types.ControlPoint{}, ErrControlPointNotFound
	}

	if blocked, err := m.checkReviewLoopLocked(state, detecting.Stage); blocked {
		return types.ControlPoint{}, err
	}

	metadata := mergeMetadata(detecting.Metadata, map[string]any{
		"quality_issues": issues,
		"review_type":    "quality_review",
	})

	return m.createControlPointLocked(state, types.StageUserReview, metadata, detecting.StagingReference, true, detecting.ID)
}

// Cancel marks pipelineID CANCELLED, archives every active control
// point for it, and notifies subscribers. Best-effort: a processor
// that already committed side effects is allowed to finish; its
// completion message will find no active control point and is
// dropped.
func (m *Manager) Cancel(pipelineID string) error {
	state, ok := m.lookupPipeline(pipelineID)
	if !ok {
		return ErrPipelineNotFound
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.context.Status.IsTerminal() {
		return nil
	}

	active := make([]types.ControlPoint, 0, len(state.active))
	for _, cp := range state.active {
		active = append(active, cp)
	}
	for _, cp := range active {
		if _, err := m.broker.Publish(types.Message{
			Type:          types.MessageStageCancel,
			Source:        m.identity,
			Target:        cp.AssignedModule,
			CorrelationID: pipelineID,
			Content:       map[string]any{"control_point_id": cp.ID, "stage": string(cp.Stage)},
		}); err != nil {
			m.logger.Error().Err(err).Str("control_point_id", cp.ID).Msg("failed to publish stage cancel")
		}
		cp.Status = types.ControlPointArchived
		m.archiveControlPointLocked(state, cp)
	}
	state.context.Status = types.PipelineStatusCancelled
	state.context.UpdatedAt = time.Now()

	metrics.PipelinesTotal.WithLabelValues(string(types.PipelineStatusCancelled)).Inc()

	_, err := m.broker.Publish(types.Message{
		Type:          types.MessagePipelineCancelled,
		Source:        m.identity,
		Target:        serviceIdentity(),
		CorrelationID: pipelineID,
		Content:       map[string]any{"pipeline_id": pipelineID},
	})
	return err
}

// PipelineStatusView is CPM's read-only summary of a pipeline, served
// without a broker round-trip (spec.md §4.4 "Health").
type PipelineStatusView struct {
	PipelineID    string
	CurrentStage  types.Stage
	Status        types.PipelineStatus
	Active        []types.ControlPoint
	History       []types.ControlPoint
	ErrorKind     string
	ErrorMessage  string
}

// GetPipelineStatus returns a point-in-time view of pipelineID.
func (m *Manager) GetPipelineStatus(pipelineID string) (PipelineStatusView, error) {
	state, ok := m.lookupPipeline(pipelineID)
	if !ok {
		return PipelineStatusView{}, ErrPipelineNotFound
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	active := make([]types.ControlPoint, 0, len(state.active))
	for _, cp := range state.active {
		active = append(active, cp)
	}

	return PipelineStatusView{
		PipelineID:   pipelineID,
		CurrentStage: state.context.CurrentStage,
		Status:       state.context.Status,
		Active:       active,
		History:      append([]types.ControlPoint(nil), state.history...),
		ErrorKind:    state.context.ErrorKind,
		ErrorMessage: state.context.ErrorMessage,
	}, nil
}

func (m *Manager) lookupPipeline(pipelineID string) (*pipelineState, bool) {
	m.pipelinesMu.RLock()
	defer m.pipelinesMu.RUnlock()
	state, ok := m.pipelines[pipelineID]
	return state, ok
}

func (m *Manager) lookupControlPointPipeline(controlPointID string) (string, bool) {
	m.cpIndexMu.RLock()
	defer m.cpIndexMu.RUnlock()
	pipelineID, ok := m.cpIndex[controlPointID]
	return pipelineID, ok
}

func mergeMetadata(base map[string]any, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
