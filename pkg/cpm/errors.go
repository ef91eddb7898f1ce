package cpm

import "errors"

var (
	// ErrPipelineNotFound is returned for operations against an unknown
	// pipeline_id. Pipelines are never reaped, so a terminal pipeline
	// is still found.
	ErrPipelineNotFound = errors.New("cpm: pipeline not found")

	// ErrControlPointNotFound is returned when a control_point_id does
	// not name an active control point.
	ErrControlPointNotFound = errors.New("cpm: control point not found")

	// ErrUnknownDepartment is returned when a stage's department
	// mapping has no registered module.
	ErrUnknownDepartment = errors.New("cpm: unknown department")

	// ErrInvalidDecision is returned for a decision with an unknown
	// or missing type.
	ErrInvalidDecision = errors.New("cpm: invalid decision")

	// ErrReviewLoopExceeded is returned (and the owning pipeline failed)
	// when a stage has been sent through USER_REVIEW more than the
	// configured review loop limit.
	ErrReviewLoopExceeded = errors.New("cpm: review loop limit exceeded")
)
