package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scientistigwe/pipelinecore/pkg/broker"
	"github.com/scientistigwe/pipelinecore/pkg/cpm"
	"github.com/scientistigwe/pipelinecore/pkg/log"
	"github.com/scientistigwe/pipelinecore/pkg/staging"
	"github.com/scientistigwe/pipelinecore/pkg/types"
)

// PipelineConfig is the caller-supplied manifest CreatePipeline
// validates, mirroring pipeline_service.py's required ['name',
// 'stage_sequence'] fields.
type PipelineConfig struct {
	Name          string
	StageSequence []types.Stage
	Metadata      map[string]any
	UserID        string
}

// Validate reports whether cfg carries the fields spec.md §4.5
// requires. StageSequence is advisory bookkeeping here -- the CPM's
// own static table governs actual transitions -- but an empty one
// signals a caller that never meant to submit a real pipeline.
func (cfg PipelineConfig) Validate() error {
	if cfg.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if len(cfg.StageSequence) == 0 {
		return fmt.Errorf("%w: stage_sequence is required", ErrInvalidConfig)
	}
	return nil
}

// PipelineRecord is the Conductor's own bookkeeping for one pipeline,
// layered over the CPM's PipelineContext with caller-facing fields
// (UserID, Config, LastRun) the CPM has no reason to know about.
type PipelineRecord struct {
	PipelineID     string
	Name           string
	UserID         string
	Status         types.PipelineStatus
	Config         PipelineConfig
	ControlPointID string
	CreatedAt      time.Time
	LastRun        time.Time
}

// Conductor is the Pipeline Service: the front door for pipeline
// submission and the subscriber that turns a department's stage
// completion/error back into a CPM state transition.
type Conductor struct {
	broker   *broker.Broker
	cpm      *cpm.Manager
	staging  *staging.Manager
	identity types.ComponentIdentifier
	logger   zerolog.Logger
	routes   *RouteRegistry

	mu        sync.RWMutex
	pipelines map[string]*PipelineRecord
}

// NewConductor registers the pipeline_service identity with b and
// subscribes it to STAGE_COMPLETE/STAGE_ERROR notices from every
// department facade.
func NewConductor(b *broker.Broker, cpmMgr *cpm.Manager, stagingMgr *staging.Manager) (*Conductor, error) {
	identity := types.ComponentIdentifier{
		Name: "pipeline_service",
		Type: types.ComponentService,
		Role: "manager",
	}
	identity, err := b.Register(identity)
	if err != nil {
		return nil, fmt.Errorf("service: register with broker: %w", err)
	}

	c := &Conductor{
		broker:    b,
		cpm:       cpmMgr,
		staging:   stagingMgr,
		identity:  identity,
		logger:    log.WithComponent("service"),
		routes:    NewRouteRegistry(),
		pipelines: make(map[string]*PipelineRecord),
	}

	if err := b.Subscribe(identity, "pipeline_service.manager.*", c.onMessage); err != nil {
		return nil, fmt.Errorf("service: subscribe: %w", err)
	}
	return c, nil
}

// Routes returns the Conductor's route registry for non-sequential
// topologies (spec.md §4.5).
func (c *Conductor) Routes() *RouteRegistry {
	return c.routes
}

func (c *Conductor) onMessage(msg types.Message) error {
	switch msg.Type {
	case types.MessageStageComplete:
		return c.handleComponentComplete(msg)
	case types.MessageStageError:
		return c.handleComponentError(msg)
	case types.MessagePipelineRejected:
		return c.handleTerminalNotice(msg.CorrelationID, types.PipelineStatusRejected)
	case types.MessagePipelineCompleted:
		return c.handleTerminalNotice(msg.CorrelationID, types.PipelineStatusCompleted)
	case types.MessagePipelineCancelled:
		return c.handleTerminalNotice(msg.CorrelationID, types.PipelineStatusCancelled)
	case types.MessageRouteError:
		return c.handleTerminalNotice(msg.CorrelationID, types.PipelineStatusFailed)
	default:
		return nil
	}
}

// handleTerminalNotice correlates a CPM terminal-status broadcast back
// to the requesting caller's own record (spec.md §4.5), so
// ListPipelines, which reads only those records, reflects the outcome
// as soon as the notification arrives. GetStatus re-reads the CPM on
// every call either way.
func (c *Conductor) handleTerminalNotice(pipelineID string, status types.PipelineStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.pipelines[pipelineID]
	if !ok {
		return fmt.Errorf("service: terminal notice for unknown pipeline %s", pipelineID)
	}
	record.Status = status
	record.LastRun = time.Now()
	return nil
}

// CreatePipeline validates cfg, creates the pipeline's context and
// first control point via the CPM, and records it for later status
// and listing queries.
func (c *Conductor) CreatePipeline(cfg PipelineConfig) (PipelineRecord, error) {
	if err := cfg.Validate(); err != nil {
		return PipelineRecord{}, err
	}

	metadata := mergeMetadata(cfg.Metadata, map[string]any{
		"stage_sequence": cfg.StageSequence,
	})

	ctx, cp, err := c.cpm.CreatePipeline(cfg.Name, metadata)
	if err != nil {
		return PipelineRecord{}, fmt.Errorf("service: create pipeline: %w", err)
	}

	record := &PipelineRecord{
		PipelineID:     ctx.PipelineID,
		Name:           cfg.Name,
		UserID:         cfg.UserID,
		Status:         ctx.Status,
		Config:         cfg,
		ControlPointID: cp.ID,
		CreatedAt:      ctx.CreatedAt,
	}

	c.mu.Lock()
	c.pipelines[ctx.PipelineID] = record
	c.mu.Unlock()

	c.logger.Info().Str("pipeline_id", ctx.PipelineID).Str("name", cfg.Name).Msg("pipeline created")
	return *record, nil
}

// StartPipeline opens the pipeline's initial control point at
// QUALITY_CHECK instead of RECEPTION/VALIDATION when stagedID already
// names data in Staging -- there is nothing left for RECEPTION or
// VALIDATION to do with data that is already staged and validated by
// its producer. Pipelines created without a stagedID already have
// their RECEPTION control point from CreatePipeline and StartPipeline
// is a no-op for them, returning the existing control point.
func (c *Conductor) StartPipeline(pipelineID string, stagedID string) (types.ControlPoint, error) {
	c.mu.Lock()
	record, ok := c.pipelines[pipelineID]
	c.mu.Unlock()
	if !ok {
		return types.ControlPoint{}, ErrPipelineNotFound
	}

	if stagedID == "" {
		status, err := c.cpm.GetPipelineStatus(pipelineID)
		if err != nil {
			return types.ControlPoint{}, err
		}
		for _, cp := range status.Active {
			if cp.ID == record.ControlPointID {
				return cp, nil
			}
		}
		if len(status.Active) > 0 {
			return status.Active[0], nil
		}
		return types.ControlPoint{}, ErrPipelineNotFound
	}

	if err := c.staging.Grant(stagedID, c.identity); err != nil {
		return types.ControlPoint{}, fmt.Errorf("%w: %s", ErrStagedInputNotFound, err)
	}
	_, entry, err := c.staging.Retrieve(stagedID, c.identity)
	if err != nil {
		return types.ControlPoint{}, fmt.Errorf("%w: %s", ErrStagedInputNotFound, err)
	}

	metadata := mergeMetadata(record.Config.Metadata, map[string]any{
		"staged_id":     stagedID,
		"quality_score": entry.QualityScore,
	})

	cp, err := c.cpm.CreateControlPoint(pipelineID, types.StageQualityCheck, metadata, stagedID, false, "")
	if err != nil {
		return types.ControlPoint{}, fmt.Errorf("service: start pipeline: %w", err)
	}

	c.mu.Lock()
	record.ControlPointID = cp.ID
	record.LastRun = time.Now()
	c.mu.Unlock()

	return cp, nil
}

// handleComponentComplete stores a department's reported output into
// Staging (when present) and asks the CPM to advance the pipeline past
// the completed control point, per spec.md's data-flow description:
// "processor ... writes results to Staging, publishes a completion
// message → CPM consumes completion ... creates the next control
// point."
func (c *Conductor) handleComponentComplete(msg types.Message) error {
	controlPointID, _ := msg.Content["control_point_id"].(string)
	if controlPointID == "" {
		return fmt.Errorf("service: stage.complete missing control_point_id")
	}

	resultMetadata, _ := msg.Content["metadata"].(map[string]any)

	if output, ok := msg.Content["output"]; ok && output != nil {
		payload := toBytes(output)
		format, _ := msg.Content["format"].(string)
		if _, err := c.staging.Store(controlPointID, msg.CorrelationID, msg.Source, payload, format, 0); err != nil {
			c.logger.Error().Err(err).Str("control_point_id", controlPointID).Msg("failed to store component output")
		}
	}

	_, err := c.cpm.AdvanceStage(controlPointID, resultMetadata)
	if err != nil {
		c.logger.Error().Err(err).Str("control_point_id", controlPointID).Msg("failed to advance stage")
		return err
	}

	c.mu.Lock()
	if record, ok := c.pipelines[msg.CorrelationID]; ok {
		record.LastRun = time.Now()
	}
	c.mu.Unlock()
	return nil
}

// handleComponentError converts a processor's reported failure into a
// pipeline rejection -- the CPM is spec.md's "single point that
// converts processor errors into pipeline state transitions", and
// reject is the transition vocabulary it already exposes for
// unrecoverable control points.
func (c *Conductor) handleComponentError(msg types.Message) error {
	controlPointID, _ := msg.Content["control_point_id"].(string)
	reason, _ := msg.Content["error"].(string)
	if controlPointID == "" {
		return fmt.Errorf("service: stage.error missing control_point_id")
	}

	c.logger.Warn().Str("control_point_id", controlPointID).Str("reason", reason).
		Msg("processor reported an error, rejecting pipeline")

	_, err := c.cpm.ProcessDecision(controlPointID, types.Decision{
		Type:   types.DecisionReject,
		Reason: reason,
	})
	return err
}

// StatusView combines the Conductor's own record with the CPM's
// point-in-time state, per spec.md §4.5's get_status.
type StatusView struct {
	Record       PipelineRecord
	ControlPoint cpm.PipelineStatusView
}

// GetStatus returns pipelineID's combined Conductor/CPM view.
func (c *Conductor) GetStatus(pipelineID string) (StatusView, error) {
	c.mu.RLock()
	record, ok := c.pipelines[pipelineID]
	c.mu.RUnlock()
	if !ok {
		return StatusView{}, ErrPipelineNotFound
	}

	cpStatus, err := c.cpm.GetPipelineStatus(pipelineID)
	if err != nil {
		return StatusView{}, err
	}

	c.mu.Lock()
	record.Status = cpStatus.Status
	view := *record
	c.mu.Unlock()

	return StatusView{Record: view, ControlPoint: cpStatus}, nil
}

// ListPipelines returns every recorded pipeline, optionally filtered
// to one userID (empty returns all -- this repo has no multi-tenant
// auth surface).
func (c *Conductor) ListPipelines(userID string) []PipelineRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]PipelineRecord, 0, len(c.pipelines))
	for _, record := range c.pipelines {
		if userID != "" && record.UserID != userID {
			continue
		}
		out = append(out, *record)
	}
	return out
}

// CancelPipeline delegates to the CPM and updates the local record.
func (c *Conductor) CancelPipeline(pipelineID string) error {
	if err := c.cpm.Cancel(pipelineID); err != nil {
		return err
	}
	c.mu.Lock()
	if record, ok := c.pipelines[pipelineID]; ok {
		record.Status = types.PipelineStatusCancelled
	}
	c.mu.Unlock()
	return nil
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

func toBytes(v any) []byte {
	switch t := v.(type) {
	case []byte:
		return t
	case string:
		return []byte(t)
	default:
		return []byte(fmt.Sprint(t))
	}
}
