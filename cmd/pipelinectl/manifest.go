package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/scientistigwe/pipelinecore/pkg/types"
)

// PipelineManifest is the YAML document `apply` reads: a pipeline to
// create and start, plus the canned decisions that drive it to a
// terminal status without a human operator attached to stdin.
//
// Example:
//
//	apiVersion: pipelinecore/v1
//	kind: Pipeline
//	metadata:
//	  name: quarterly-ingest
//	spec:
//	  stageSequence: [RECEPTION, VALIDATION, QUALITY_CHECK, INSIGHT_GENERATION, DECISION_MAKING, REPORT_GENERATION, COMPLETION]
//	  autoApprove: true
type PipelineManifest struct {
	APIVersion string           `yaml:"apiVersion" validate:"required"`
	Kind       string           `yaml:"kind" validate:"required,eq=Pipeline"`
	Metadata   ManifestMetadata `yaml:"metadata" validate:"required"`
	Spec       PipelineSpec     `yaml:"spec" validate:"required"`
}

// ManifestMetadata names the pipeline being submitted.
type ManifestMetadata struct {
	Name string `yaml:"name" validate:"required"`
}

// PipelineSpec carries the stage_sequence field
// service.PipelineConfig.Validate requires (the name comes from
// ManifestMetadata) plus the apply-time driving
// instructions that have no equivalent in PipelineConfig itself.
type PipelineSpec struct {
	StageSequence []string         `yaml:"stageSequence" validate:"required,min=1"`
	Metadata      map[string]any   `yaml:"metadata"`
	UserID        string           `yaml:"userID"`
	StagedInput   string           `yaml:"stagedInput"`
	AutoApprove   bool             `yaml:"autoApprove"`
	Decisions     []DecisionSpec   `yaml:"decisions"`
}

// DecisionSpec pins the decision `apply` submits when the pipeline's
// active control point reaches Stage, overriding AutoApprove for that
// one stage.
type DecisionSpec struct {
	Stage       string `yaml:"stage" validate:"required"`
	Type        string `yaml:"type" validate:"required,oneof=approve rework reject"`
	ReworkStage string `yaml:"reworkStage"`
	Reason      string `yaml:"reason"`
}

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		validateInst = validator.New()
	})
	return validateInst
}

// LoadManifest reads, parses, and validates the YAML manifest at path.
func LoadManifest(path string) (PipelineManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PipelineManifest{}, fmt.Errorf("pipelinectl: read manifest: %w", err)
	}

	var m PipelineManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return PipelineManifest{}, fmt.Errorf("pipelinectl: parse manifest: %w", err)
	}

	if err := validatorInstance().Struct(m); err != nil {
		return PipelineManifest{}, fmt.Errorf("pipelinectl: invalid manifest: %w", err)
	}
	return m, nil
}

func (s PipelineSpec) stages() []types.Stage {
	out := make([]types.Stage, 0, len(s.StageSequence))
	for _, raw := range s.StageSequence {
		out = append(out, types.Stage(raw))
	}
	return out
}

func (s PipelineSpec) decisionFor(stage types.Stage) (DecisionSpec, bool) {
	for _, d := range s.Decisions {
		if types.Stage(d.Stage) == stage {
			return d, true
		}
	}
	return DecisionSpec{}, false
}
