package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadManifestValid(t *testing.T) {
	path := writeManifest(t, `
apiVersion: pipelinecore/v1
kind: Pipeline
metadata:
  name: quarterly-ingest
spec:
  stageSequence: [RECEPTION, VALIDATION, QUALITY_CHECK, COMPLETION]
  autoApprove: true
  decisions:
    - stage: USER_REVIEW
      type: approve
`)

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "quarterly-ingest", m.Metadata.Name)
	assert.True(t, m.Spec.AutoApprove)
	assert.Len(t, m.Spec.Decisions, 1)
}

func TestLoadManifestRejectsWrongKind(t *testing.T) {
	path := writeManifest(t, `
apiVersion: pipelinecore/v1
kind: Widget
metadata:
  name: quarterly-ingest
spec:
  stageSequence: [RECEPTION]
`)

	_, err := LoadManifest(path)
	assert.Error(t, err)
}

func TestLoadManifestRejectsMissingStageSequence(t *testing.T) {
	path := writeManifest(t, `
apiVersion: pipelinecore/v1
kind: Pipeline
metadata:
  name: quarterly-ingest
spec:
  stageSequence: []
`)

	_, err := LoadManifest(path)
	assert.Error(t, err)
}

func TestLoadManifestRejectsUnknownDecisionType(t *testing.T) {
	path := writeManifest(t, `
apiVersion: pipelinecore/v1
kind: Pipeline
metadata:
  name: quarterly-ingest
spec:
  stageSequence: [RECEPTION]
  decisions:
    - stage: RECEPTION
      type: maybe
`)

	_, err := LoadManifest(path)
	assert.Error(t, err)
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestPipelineSpecDecisionFor(t *testing.T) {
	spec := PipelineSpec{
		Decisions: []DecisionSpec{
			{Stage: "USER_REVIEW", Type: "reject", Reason: "bad data"},
		},
	}

	d, ok := spec.decisionFor("USER_REVIEW")
	require.True(t, ok)
	assert.Equal(t, "reject", d.Type)

	_, ok = spec.decisionFor("RECEPTION")
	assert.False(t, ok)
}
