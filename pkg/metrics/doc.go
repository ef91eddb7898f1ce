/*
Package metrics defines the Prometheus series pipelinecore emits across
the broker, control-point manager, and staging area, plus a Timer
helper for histogram observations and a lightweight component health
registry consulted by the CLI's health command.

Metrics are registered at package init the way Warren's were; the
catalog below replaced node/raft/ingress series with the ones this
system actually produces.

Broker:
  - pipelinecore_broker_messages_published_total{type}
  - pipelinecore_broker_messages_dispatched_total{type}
  - pipelinecore_broker_callback_errors_total{component}
  - pipelinecore_broker_queue_depth

Control points:
  - pipelinecore_control_points_created_total{department,stage}
  - pipelinecore_control_points_archived_total{department,stage}
  - pipelinecore_control_points_timed_out_total{department,stage}
  - pipelinecore_review_loops_total{department,stage}

Pipelines:
  - pipelinecore_pipelines_total{status}
  - pipelinecore_pipeline_duration_seconds{outcome}

Staging:
  - pipelinecore_staging_entries_total{state}
  - pipelinecore_staging_bytes_stored
*/
package metrics
