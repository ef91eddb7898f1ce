package types

import "time"

// MessageType is the closed enumeration of events that flow through the
// broker: stage lifecycle events, control events, and operational events.
type MessageType string

const (
	// Stage lifecycle, emitted by department processors.
	MessageStageComplete MessageType = "stage.complete"
	MessageStageError    MessageType = "stage.error"

	// Control events, exchanged between CPM and departments/service.
	MessageControlPointReached  MessageType = "control_point.reached"
	MessageUserDecisionSubmit   MessageType = "user_decision.submitted"
	MessageQualityIssuesFound   MessageType = "quality.issues_detected"
	MessagePipelineRejected     MessageType = "pipeline.rejected"
	MessagePipelineCompleted    MessageType = "pipeline.completed"
	MessagePipelineCancelled    MessageType = "pipeline.cancelled"
	MessageRouteError           MessageType = "route.error"
	MessageStageCancel          MessageType = "stage.cancel"

	// Operational events.
	MessageError        MessageType = "error"
	MessageStatusUpdate MessageType = "status_update"

	// Staging lifecycle.
	MessageStagingStored        MessageType = "staging.stored"
	MessageStagingDeleteComplete MessageType = "staging.delete_complete"
	MessageStagingAccessDenied   MessageType = "staging.access_denied"
)

// Message is the only unit of inter-component communication. Every
// message belonging to one pipeline carries that pipeline's id as
// CorrelationID, which correlates request/reply exchanges and names the
// pipeline whose lock the CPM takes while applying a transition. The
// broker does not order or serialize dispatch by CorrelationID.
type Message struct {
	ID            string
	Type          MessageType
	Source        ComponentIdentifier
	Target        ComponentIdentifier
	Content       map[string]any
	CorrelationID string
	Metadata      MessageMetadata
	CreatedAt     time.Time
}

// MessageMetadata carries routing hints alongside a Message's payload.
type MessageMetadata struct {
	SourceComponent string
	TargetComponent string
	DomainType      Department
	ProcessingStage Stage
	CorrelationID   string
}
