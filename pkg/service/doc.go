/*
Package service implements the Pipeline Service / Conductor: the front
door a caller submits a pipeline request to, and the component that
correlates a department's completion message back to the pipeline that
is waiting on it.

A Conductor wraps a *cpm.Manager and a *staging.Manager behind the five
operations spec.md §4.5 names -- CreatePipeline, StartPipeline,
handleComponentComplete (invoked automatically as a broker subscriber,
not called directly), GetStatus, ListPipelines -- plus a RouteRegistry
for the non-sequential topologies (parallel fan-out, conditional
routing) that are orthogonal to the CPM's own sequential
stage-transition table. Grounded on
original_source/backend/api/services/pipeline_service.py for the
front-door operations and
original_source/backend/core/orchestration/route_manager.py's
DataConductor for the route bookkeeping; the constructor-with-injected-
collaborators shape follows pkg/manager/manager.go's NewManager(cfg)
pattern.
*/
package service
