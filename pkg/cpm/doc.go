// Package cpm implements the Control-Point Manager: the state machine
// that owns every in-flight PipelineContext, creates the ControlPoint
// gates that route work to departments, applies the stage-transition
// table to decisions, and archives completed control points into each
// pipeline's history.
//
// Grounded on pkg/scheduler's central decision loop (ticker, a lock
// over shared state, per-item error isolation) generalized from
// container-to-node scheduling to stage-to-department routing, and on
// the stage-transition table, decision dispatch, and archival rules of
// the original control_point_manager. The timeout monitor is a single
// ticker-driven sweep over every active control point; an archived
// point simply drops out of the next sweep.
//
// State mutation is serialized per pipeline, never globally: a
// Manager holds one mutex per pipeline_id, so unrelated pipelines
// never contend on each other's transitions.
package cpm
