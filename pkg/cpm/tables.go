package cpm

import "github.com/scientistigwe/pipelinecore/pkg/types"

// stageTransitions is the static stage -> candidate-next-stages table.
// "approve" and AdvanceStage always take the first candidate; the
// content of a completion message is not consulted. The other
// candidates are reached only through a rework decision's explicit
// ReworkStage or the ad hoc USER_REVIEW of HandleQualityIssues.
var stageTransitions = map[types.Stage][]types.Stage{
	types.StageReception: {types.StageValidation},
	types.StageValidation: {types.StageQualityCheck},
	types.StageQualityCheck: {
		types.StageContextAnalysis,
		types.StageUserReview, // chosen when quality issues are detected
	},
	types.StageContextAnalysis: {
		types.StageInsightGeneration,
		types.StageAdvancedAnalytics,
	},
	types.StageInsightGeneration: {
		types.StageDecisionMaking,
		types.StageUserReview,
	},
	types.StageAdvancedAnalytics: {
		types.StageInsightGeneration,
		types.StageDecisionMaking,
	},
	types.StageDecisionMaking: {
		types.StageRecommendation,
		types.StageReportGeneration,
	},
	// Forward progression (REPORT_GENERATION) is listed before the
	// USER_REVIEW back-edge so that "approve" -- which always takes the
	// first candidate -- advances the happy path instead of looping
	// back through review, matching spec.md §8 scenario 1's invariant
	// that approving every gate reaches COMPLETED.
	types.StageRecommendation: {
		types.StageReportGeneration,
		types.StageUserReview,
	},
	types.StageReportGeneration: {
		types.StageCompletion,
		types.StageUserReview,
	},
	types.StageUserReview: {
		types.StageQualityCheck,      // rework
		types.StageInsightGeneration, // additional analysis
		types.StageReportGeneration,  // report updates
		types.StageCompletion,
	},
}

// stageDepartments is the static stage -> department map. The CPM
// never invokes a processor directly; it always publishes
// CONTROL_POINT_REACHED to the manager of the responsible department.
var stageDepartments = map[types.Stage]types.Department{
	types.StageReception:         types.DepartmentService,
	types.StageValidation:        types.DepartmentService,
	types.StageQualityCheck:      types.DepartmentQuality,
	types.StageContextAnalysis:   types.DepartmentInsight,
	types.StageInsightGeneration: types.DepartmentInsight,
	types.StageAdvancedAnalytics: types.DepartmentAnalytics,
	types.StageDecisionMaking:    types.DepartmentDecision,
	types.StageRecommendation:    types.DepartmentRecommend,
	types.StageReportGeneration:  types.DepartmentReport,
	types.StageUserReview:        types.DepartmentService,
	types.StageCompletion:        types.DepartmentService,
}

// departmentManagerName is the component name of each department's
// manager, used to address CONTROL_POINT_REACHED publishes. Handler
// and processor roles of the same chain are addressed by the
// department façade itself (pkg/worker), never by the CPM.
var departmentManagerName = map[types.Department]struct {
	Name string
	Type types.ComponentType
}{
	types.DepartmentService:   {"pipeline_service", types.ComponentService},
	types.DepartmentQuality:   {"quality_manager", types.ComponentQualityManager},
	types.DepartmentInsight:   {"insight_manager", types.ComponentInsightManager},
	types.DepartmentAnalytics: {"analytics_manager", types.ComponentAnalyticsManager},
	types.DepartmentDecision:  {"decision_manager", types.ComponentDecisionManager},
	types.DepartmentRecommend: {"recommendation_manager", types.ComponentRecommendManager},
	types.DepartmentReport:    {"report_manager", types.ComponentReportManager},
}

// assignedModule resolves the ComponentIdentifier a stage's
// CONTROL_POINT_REACHED message is addressed to.
func assignedModule(stage types.Stage) (types.ComponentIdentifier, error) {
	dept, ok := stageDepartments[stage]
	if !ok {
		return types.ComponentIdentifier{}, ErrUnknownDepartment
	}
	info, ok := departmentManagerName[dept]
	if !ok {
		return types.ComponentIdentifier{}, ErrUnknownDepartment
	}
	return types.ManagerIdentifier(dept, info.Type, info.Name), nil
}

// serviceIdentity is the ComponentIdentifier the pipeline service
// registers under (pkg/service's Conductor). Terminal pipeline
// notifications -- rejected, completed, cancelled, route error -- are
// addressed here rather than back to the CPM itself, per spec.md §4.4
// "publish rejection notice to the pipeline service".
func serviceIdentity() types.ComponentIdentifier {
	info := departmentManagerName[types.DepartmentService]
	return types.ManagerIdentifier(types.DepartmentService, info.Type, info.Name)
}

// stageDependencies derives each stage's predecessors from
// stageTransitions: the predecessors of T are all stages S whose
// candidate set contains T.
func stageDependencies() map[types.Stage][]types.Stage {
	deps := make(map[types.Stage][]types.Stage)
	for _, stage := range types.AllStages {
		for prev, candidates := range stageTransitions {
			for _, candidate := range candidates {
				if candidate == stage {
					deps[stage] = append(deps[stage], prev)
				}
			}
		}
	}
	return deps
}
