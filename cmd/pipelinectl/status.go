package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <pipeline-id>",
	Short: "Show the last captured snapshot of a pipeline",
	Long: `Status reports the pipeline state as of the last "apply"
invocation that captured it -- pipelinectl has no
daemon holding live state between commands, so this is a point-in-time
read, not a live query.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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
	return nil
}
