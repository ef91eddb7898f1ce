/*
Package worker provides the department-facing harness each of the six
processing departments (quality, insight, analytics, decision,
recommendation, report) uses to satisfy the CPM's "polymorphic
processor" contract: receive CONTROL_POINT_REACHED, run department-
specific work, and report back complete/error/quality-issues.

A Facade is a thin adapter, not a scheduler: it registers one
department manager identity with the broker, subscribes to messages
addressed to that identity, and dispatches each CONTROL_POINT_REACHED
to a Handler supplied by the concrete department. The concrete
analyzers/generators behind Handler are out of scope here; this
package only owns the subscribe/publish plumbing, adapted from the
Warren worker's heartbeat-and-task-sync harness -- stripped of
containerd, gRPC, and TLS, since a department has no container to run
and no node to join, only a message to answer.
*/
package worker
