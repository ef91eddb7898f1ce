package service

import "errors"

var (
	// ErrInvalidConfig is returned by CreatePipeline when config is
	// missing a required field (spec.md §4.5: "must include name and
	// stage_sequence").
	ErrInvalidConfig = errors.New("service: invalid pipeline config")
	// ErrPipelineNotFound is returned when an operation names a
	// pipeline_id the Conductor has no record of.
	ErrPipelineNotFound = errors.New("service: pipeline not found")
	// ErrStagedInputNotFound is returned by StartPipeline when the
	// given staged_id has no staging entry.
	ErrStagedInputNotFound = errors.New("service: staged input not found")
	// ErrRouteNotFound names a missing route; no RouteRegistry method
	// returns it.
	ErrRouteNotFound = errors.New("service: route not found")
	// ErrExecutionNotFound is returned by route execution lookups.
	ErrExecutionNotFound = errors.New("service: route execution not found")
)
