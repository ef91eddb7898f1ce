package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/scientistigwe/pipelinecore/pkg/types"
)

// RouteExecution tracks one in-flight traversal of a registered route,
// independent of any control point -- a route describes which stages
// *may* run concurrently or conditionally; the control points that
// actually gate each stage still come from the CPM.
type RouteExecution struct {
	ExecutionID    string
	PipelineID     string
	RouteType      types.RouteType
	CurrentStages  map[types.Stage]bool
	CompletedStages map[types.Stage]bool
	Status         string
	StartedAt      time.Time
}

// RouteRegistry holds the set of declared Routes and their active
// executions. It is consulted only for topologies the CPM's sequential
// stage-transition table cannot express (parallel fan-out, conditional
// branches); sequential pipelines never touch it. Grounded on
// route_manager.py's DataConductor, adapted from its node-name routing
// to this repo's Stage-typed Route.
type RouteRegistry struct {
	mu         sync.RWMutex
	routes     map[string]types.Route
	executions map[string]*RouteExecution

	totalRoutes     int
	completedRoutes int
	failedRoutes    int
}

// NewRouteRegistry returns an empty registry.
func NewRouteRegistry() *RouteRegistry {
	return &RouteRegistry{
		routes:     make(map[string]types.Route),
		executions: make(map[string]*RouteExecution),
	}
}

func routeID(route types.Route) string {
	id := string(route.Source)
	for _, t := range route.Targets {
		id += "_" + string(t)
	}
	return id
}

// Register records route and returns its id, generated from its source
// and target stages.
func (r *RouteRegistry) Register(route types.Route) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := routeID(route)
	r.routes[id] = route
	r.totalRoutes++
	return id
}

// NextStages returns every target stage reachable from current whose
// route conditions are satisfied by context. Multiple matching routes
// contribute to the same result set, matching DataConductor's
// get_next_nodes union semantics.
func (r *RouteRegistry) NextStages(current types.Stage, context map[string]any) []types.Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[types.Stage]bool)
	var next []types.Stage
	for _, route := range r.routes {
		if route.Source != current {
			continue
		}
		if !evaluateConditions(route, context) {
			continue
		}
		for _, target := range route.Targets {
			if !seen[target] {
				seen[target] = true
				next = append(next, target)
			}
		}
	}
	return next
}

func evaluateConditions(route types.Route, context map[string]any) bool {
	if len(route.Conditions) == 0 {
		return true
	}
	for key, want := range route.Conditions {
		got, ok := context[key]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

// StartExecution begins tracking a route traversal for pipelineID,
// returning an execution id used by UpdateExecution/CompleteExecution.
func (r *RouteRegistry) StartExecution(pipelineID string, routeType types.RouteType, initial []types.Stage) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := fmt.Sprintf("route_%s_%d", pipelineID, len(r.executions))
	current := make(map[types.Stage]bool, len(initial))
	for _, s := range initial {
		current[s] = true
	}
	r.executions[id] = &RouteExecution{
		ExecutionID:     id,
		PipelineID:      pipelineID,
		RouteType:       routeType,
		CurrentStages:   current,
		CompletedStages: make(map[types.Stage]bool),
		Status:          "active",
		StartedAt:       time.Now(),
	}
	return id
}

// UpdateExecution marks completed done within executionID and returns
// the next stages it unlocks, per the registered routes and context.
func (r *RouteRegistry) UpdateExecution(executionID string, completed types.Stage, context map[string]any) ([]types.Stage, error) {
	r.mu.Lock()
	exec, ok := r.executions[executionID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrExecutionNotFound
	}

	r.mu.Lock()
	delete(exec.CurrentStages, completed)
	exec.CompletedStages[completed] = true
	r.mu.Unlock()

	next := r.NextStages(completed, context)

	r.mu.Lock()
	for _, s := range next {
		exec.CurrentStages[s] = true
	}
	r.mu.Unlock()

	return next, nil
}

// CompleteExecution marks executionID finished and retires its
// bookkeeping; unlike DataConductor this keeps the record (status
// flipped, not deleted) so ExecutionStatus remains queryable after
// completion for audit purposes.
func (r *RouteRegistry) CompleteExecution(executionID string, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec, ok := r.executions[executionID]
	if !ok {
		return
	}
	exec.Status = status
	if status == "completed" {
		r.completedRoutes++
	} else {
		r.failedRoutes++
	}
}

// ExecutionStatus returns a snapshot of executionID's state.
func (r *RouteRegistry) ExecutionStatus(executionID string) (RouteExecution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executions[executionID]
	if !ok {
		return RouteExecution{}, false
	}
	return *exec, true
}

// Metrics returns the registry's route counters, mirroring
// DataConductor's ConductorMetrics (minus avg_execution_time, which no
// caller in this repo consumes).
func (r *RouteRegistry) Metrics() (total, completed, failed int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalRoutes, r.completedRoutes, r.failedRoutes
}
