/*
Package types defines the core data structures shared across pipelinecore.

This package contains the domain model described by the orchestration
spine: component identifiers, messages, pipeline contexts, control
points, routes, and staging entries. Every other package imports types
for state management and message exchange; types itself imports nothing
from the rest of the module.

# Core Types

Addressing:
  - ComponentIdentifier: a component's logical address (name, type,
    department, role, instance id) and its subscription tag.

Messaging:
  - Message: the only unit of inter-component communication.
  - MessageType: closed enumeration of stage/control/operational events.

Pipeline state:
  - PipelineContext: the top-level state object for one in-flight run.
  - ControlPoint: one stage's decision gate.
  - Decision: a user decision applied to a control point.
  - Route: a non-sequential topology declaration (parallel/conditional).

Staging:
  - StagingEntry: metadata for one stage's staged output.

All types are plain structs with exported fields; enums are string-backed
so they serialize legibly and compare cheaply.
*/
package types
