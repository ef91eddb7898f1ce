package types

import "time"

// Stage names a unit of processing mapped to one responsible department.
type Stage string

const (
	StageReception           Stage = "RECEPTION"
	StageValidation          Stage = "VALIDATION"
	StageQualityCheck        Stage = "QUALITY_CHECK"
	StageContextAnalysis     Stage = "CONTEXT_ANALYSIS"
	StageInsightGeneration   Stage = "INSIGHT_GENERATION"
	StageAdvancedAnalytics   Stage = "ADVANCED_ANALYTICS"
	StageDecisionMaking      Stage = "DECISION_MAKING"
	StageRecommendation      Stage = "RECOMMENDATION"
	StageReportGeneration    Stage = "REPORT_GENERATION"
	StageUserReview          Stage = "USER_REVIEW"
	StageCompletion          Stage = "COMPLETION"
)

// AllStages lists every stage in canonical order, used to build a
// pipeline's stage_sequence on creation.
var AllStages = []Stage{
	StageReception,
	StageValidation,
	StageQualityCheck,
	StageContextAnalysis,
	StageInsightGeneration,
	StageAdvancedAnalytics,
	StageDecisionMaking,
	StageRecommendation,
	StageReportGeneration,
	StageUserReview,
	StageCompletion,
}

// PipelineStatus is the top-level state of a PipelineContext.
type PipelineStatus string

const (
	PipelineStatusPending          PipelineStatus = "PENDING"
	PipelineStatusRunning          PipelineStatus = "RUNNING"
	PipelineStatusAwaitingDecision PipelineStatus = "AWAITING_DECISION"
	PipelineStatusRejected         PipelineStatus = "REJECTED"
	PipelineStatusFailed           PipelineStatus = "FAILED"
	PipelineStatusCompleted        PipelineStatus = "COMPLETED"
	PipelineStatusCancelled        PipelineStatus = "CANCELLED"
)

// IsTerminal reports whether a pipeline in this status can no longer progress.
func (s PipelineStatus) IsTerminal() bool {
	switch s {
	case PipelineStatusRejected, PipelineStatusFailed, PipelineStatusCompleted, PipelineStatusCancelled:
		return true
	default:
		return false
	}
}

// ControlPointStatus is the state of a single ControlPoint.
type ControlPointStatus string

const (
	ControlPointPending   ControlPointStatus = "PENDING"
	ControlPointActive    ControlPointStatus = "ACTIVE"
	ControlPointApproved  ControlPointStatus = "APPROVED"
	ControlPointRework    ControlPointStatus = "REWORK"
	ControlPointRejected  ControlPointStatus = "REJECTED"
	ControlPointTimedOut  ControlPointStatus = "TIMED_OUT"
	ControlPointArchived  ControlPointStatus = "ARCHIVED"
)

// PipelineContext is the top-level state object for one in-flight run.
// It is created on submission and mutated only by the CPM, which keeps
// it for the life of the process; nothing removes it after it reaches
// a terminal status.
type PipelineContext struct {
	PipelineID        string
	Name              string
	CurrentStage      Stage
	Status            PipelineStatus
	StageSequence     []Stage
	StageDependencies map[Stage][]Stage
	ComponentStates   map[Department]string
	Metadata          map[string]any
	ErrorKind         string
	ErrorMessage      string
	LastCompletedStage Stage
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DecisionType is the outcome carried by a USER_DECISION_SUBMITTED message.
type DecisionType string

const (
	DecisionApprove DecisionType = "approve"
	DecisionRework  DecisionType = "rework"
	DecisionReject  DecisionType = "reject"
)

// Decision records one user decision applied to a control point.
type Decision struct {
	Type        DecisionType
	ReworkStage Stage
	Reason      string
	AppliedAt   time.Time
}

// ControlPoint is one stage's gate: it holds state and, if
// RequiresDecision, blocks until an external actor resolves it. A
// control point is either active (in the manager's active set) or
// archived (appended to that pipeline's history) -- never both, never
// neither while the owning pipeline is non-terminal.
type ControlPoint struct {
	ID                  string
	PipelineID          string
	Stage               Stage
	Department          Department
	AssignedModule      ComponentIdentifier
	Status              ControlPointStatus
	RequiresDecision    bool
	NextStages          []Stage
	StagingReference    string
	ParentControlPoint  string
	Decisions           []Decision
	Metadata            map[string]any
	Timeout             time.Duration
	CreatedAt           time.Time
	UpdatedAt           time.Time
	RetryCount          int
}

// RouteType is the kind of topology declaration a Route describes.
type RouteType string

const (
	RouteSequential  RouteType = "SEQUENTIAL"
	RouteParallel    RouteType = "PARALLEL"
	RouteConditional RouteType = "CONDITIONAL"
	RouteControlPoint RouteType = "CONTROL_POINT"
	RouteRecovery    RouteType = "RECOVERY"
)

// Route declares that completion of stage Source with predicate
// Conditions unlocks stages Targets. Routes are consulted by the
// Pipeline Service for non-sequential topologies; the CPM's own
// sequential stage-transition table does not use them.
type Route struct {
	Source          Stage
	Targets         []Stage
	Type            RouteType
	Conditions      map[string]string
	ValidationRules []string
}
