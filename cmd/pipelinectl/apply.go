package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/scientistigwe/pipelinecore/pkg/log"
	"github.com/scientistigwe/pipelinecore/pkg/metrics"
	"github.com/scientistigwe/pipelinecore/pkg/service"
	"github.com/scientistigwe/pipelinecore/pkg/types"
)

// pollInterval and maxPolls bound how long `apply` waits for a
// pipeline's department facades to finish their (synthetic, EchoHandler)
// work between gates that need an explicit decision.
const (
	pollInterval = 20 * time.Millisecond
	maxPolls     = 500
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create, start, and drive a pipeline from a YAML manifest",
	Long: `Apply submits a pipeline manifest, starts it, and drives it to a
terminal status within this process: gates assigned to a processing
department (quality, insight, analytics, decision, recommendation,
report) resolve themselves once their facade's handler completes;
gates with no processor (RECEPTION, VALIDATION, USER_REVIEW) are
resolved from the manifest's "decisions" list, or auto-approved when
"autoApprove: true" and no decision names that stage.

Example:
  pipelinectl apply -f pipeline.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "pipeline manifest YAML file (required)")
	applyCmd.Flags().String("metrics-addr", "", "if set, serve Prometheus metrics on this address for the lifetime of apply (e.g. :9090)")
	_ = applyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	manifest, err := LoadManifest(filename)
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		stopMetrics := serveMetrics(metricsAddr)
		defer stopMetrics()
	}

	app, err := NewApp(dataDir)
	if err != nil {
		return err
	}
	defer app.Close()

	record, err := app.Conductor.CreatePipeline(service.PipelineConfig{
		Name:          manifest.Metadata.Name,
		StageSequence: manifest.Spec.stages(),
		Metadata:      manifest.Spec.Metadata,
		UserID:        manifest.Spec.UserID,
	})
	if err != nil {
		return fmt.Errorf("pipelinectl: create pipeline: %w", err)
	}
	fmt.Printf("✓ Pipeline created: %s (%s)\n", record.Name, record.PipelineID)

	stagedID := ""
	if manifest.Spec.StagedInput != "" {
		stagedID, err = app.stageInput(record.PipelineID, manifest.Spec.StagedInput)
		if err != nil {
			return err
		}
	}

	cp, err := app.Conductor.StartPipeline(record.PipelineID, stagedID)
	if err != nil {
		return fmt.Errorf("pipelinectl: start pipeline: %w", err)
	}
	fmt.Printf("✓ Pipeline started at %s (control point %s)\n", cp.Stage, cp.ID)

	return app.drive(record.PipelineID, manifest.Spec)
}

// stageInput reads path and stores it in Staging under the pipeline's
// id as correlation id, returning the new staging id.
func (a *App) stageInput(pipelineID, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("pipelinectl: read staged input: %w", err)
	}
	producer := types.ComponentIdentifier{Name: "pipelinectl", Role: "manager"}
	stageID := fmt.Sprintf("%s-input", pipelineID)
	entry, err := a.Staging.Store(stageID, pipelineID, producer, data, "raw", 0)
	if err != nil {
		return "", fmt.Errorf("pipelinectl: stage input: %w", err)
	}
	return entry.StageID, nil
}

// drive polls pipelineID's status, resolving every gate that has no
// processing department by submitting the manifest's decision (or
// auto-approving) until the pipeline reaches a terminal status or
// stalls awaiting a decision the manifest doesn't supply.
func (a *App) drive(pipelineID string, spec PipelineSpec) error {
	for i := 0; i < maxPolls; i++ {
		view, err := a.Conductor.GetStatus(pipelineID)
		if err != nil {
			return fmt.Errorf("pipelinectl: get status: %w", err)
		}

		if view.ControlPoint.Status.IsTerminal() {
			return a.report(view)
		}

		progressed := false
		for _, cp := range view.ControlPoint.Active {
			if cp.Department != types.DepartmentService {
				// A facade is handling this one; nothing for us to do.
				continue
			}

			decision, ok := resolveDecision(spec, cp.Stage)
			if !ok {
				log.WithStageID(string(cp.Stage)).Warn().Str("control_point_id", cp.ID).
					Msg("awaiting a manifest decision")
				fmt.Printf("… awaiting decision for stage %s (control point %s) -- add it to the manifest's \"decisions\" list and re-run apply\n",
					cp.Stage, cp.ID)
				continue
			}

			cpLogger := log.WithControlPointID(cp.ID)
			if _, err := a.CPM.ProcessDecision(cp.ID, decision); err != nil {
				cpLogger.Error().Err(err).Str("decision", string(decision.Type)).Msg("failed to apply decision")
				return fmt.Errorf("pipelinectl: apply decision at %s: %w", cp.Stage, err)
			}
			cpLogger.Info().Str("decision", string(decision.Type)).Msg("decision applied")
			progressed = true
		}

		if !progressed && len(view.ControlPoint.Active) > 0 {
			hasServiceGate := false
			for _, cp := range view.ControlPoint.Active {
				if cp.Department == types.DepartmentService {
					hasServiceGate = true
				}
			}
			if hasServiceGate {
				return fmt.Errorf("pipelinectl: stalled awaiting a decision the manifest doesn't supply; add a \"decisions\" entry for the stalled stage, or set autoApprove, and re-run apply")
			}
		}

		time.Sleep(pollInterval)
	}
	return fmt.Errorf("pipelinectl: pipeline %s did not reach a terminal status within %d polls", pipelineID, maxPolls)
}

// serveMetrics mounts /metrics on addr for the lifetime of the apply
// command, returning a func to shut it down. Listen errors other than
// a clean shutdown are logged to stderr rather than failing the run --
// a pipeline should still complete even if the metrics port is taken.
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "pipelinectl: metrics server: %v\n", err)
		}
	}()
	fmt.Printf("✓ Metrics listening on %s/metrics\n", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func resolveDecision(spec PipelineSpec, stage types.Stage) (types.Decision, bool) {
	if d, ok := spec.decisionFor(stage); ok {
		return types.Decision{
			Type:        types.DecisionType(d.Type),
			ReworkStage: types.Stage(d.ReworkStage),
			Reason:      d.Reason,
		}, true
	}
	if spec.AutoApprove {
		return types.Decision{Type: types.DecisionApprove}, true
	}
	return types.Decision{}, false
}

func (a *App) report(view service.StatusView) error {
	log.WithPipelineID(view.Record.PipelineID).Info().
		Str("status", string(view.ControlPoint.Status)).Msg("pipeline reached a terminal status")

	fmt.Printf("\nPipeline %s finished: %s\n", view.Record.PipelineID, view.ControlPoint.Status)
	fmt.Printf("  Stage:   %s\n", view.ControlPoint.CurrentStage)
	fmt.Printf("  History: %d control points\n", len(view.ControlPoint.History))
	if view.ControlPoint.ErrorKind != "" {
		fmt.Printf("  Error:   %s (%s)\n", view.ControlPoint.ErrorKind, view.ControlPoint.ErrorMessage)
	}

	snap, err := a.Snapshot.Capture(view.Record.PipelineID)
	if err != nil {
		return fmt.Errorf("pipelinectl: capture snapshot: %w", err)
	}
	fmt.Printf("✓ Snapshot captured at %s\n", snap.CapturedAt.Format(time.RFC3339))
	return nil
}
