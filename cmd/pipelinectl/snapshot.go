package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scientistigwe/pipelinecore/pkg/snapshot"
)

// snapshotCmd groups the maintenance operations over the persisted
// snapshot store that "status"/"list" don't cover: explicit deletion,
// and re-printing one pipeline's record in full (active AND archived
// control points, where "status" only headlines the current stage).
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect or manage persisted pipeline snapshots",
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show <pipeline-id>",
	Short: "Print a pipeline's full snapshot, including control point history",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotShow,
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <pipeline-id>",
	Short: "Delete a pipeline's persisted snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotDelete,
}

func init() {
	snapshotCmd.AddCommand(snapshotShowCmd)
	snapshotCmd.AddCommand(snapshotDeleteCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshotShow(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	pipelineID := args[0]

	store, closeStore, err := openSnapshotStore(dataDir)
	if err != nil {
		return err
	}
	defer closeStore()

	snap, found, err := store.Load(pipelineID)
	if err != nil {
		return fmt.Errorf("pipelinectl: load snapshot: %w", err)
	}
	if !found {
		return fmt.Errorf("pipelinectl: no snapshot recorded for pipeline %s", pipelineID)
	}

	printSnapshot(snap)
	fmt.Printf("\nActive control points: %d\n", len(snap.Active))
	for _, cp := range snap.Active {
		fmt.Printf("  %s  stage=%-20s status=%-10s department=%s\n", cp.ID, cp.Stage, cp.Status, cp.Department)
	}
	fmt.Printf("\nArchived control points: %d\n", len(snap.History))
	for _, cp := range snap.History {
		fmt.Printf("  %s  stage=%-20s status=%-10s department=%s\n", cp.ID, cp.Stage, cp.Status, cp.Department)
	}
	return nil
}

func runSnapshotDelete(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	pipelineID := args[0]

	store, closeStore, err := openSnapshotStore(dataDir)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.Delete(pipelineID); err != nil {
		return fmt.Errorf("pipelinectl: delete snapshot: %w", err)
	}
	fmt.Printf("✓ Deleted snapshot for pipeline %s\n", pipelineID)
	return nil
}

func printSnapshot(snap snapshot.Snapshot) {
	fmt.Printf("Pipeline:  %s\n", snap.PipelineID)
	fmt.Printf("Stage:     %s\n", snap.CurrentStage)
	fmt.Printf("Status:    %s\n", snap.Status)
	fmt.Printf("Captured:  %s\n", snap.CapturedAt.Format("2006-01-02T15:04:05Z07:00"))
	if snap.ErrorKind != "" {
		fmt.Printf("Error:     %s (%s)\n", snap.ErrorKind, snap.ErrorMessage)
	}
}
