package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every pipeline with a captured snapshot",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")

	store, closeStore, err := openSnapshotStore(dataDir)
	if err != nil {
		return err
	}
	defer closeStore()

	snaps, err := store.List()
	if err != nil {
		return fmt.Errorf("pipelinectl: list snapshots: %w", err)
	}
	if len(snaps) == 0 {
		fmt.Println("No pipelines have a captured snapshot yet.")
		return nil
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].CapturedAt.Before(snaps[j].CapturedAt) })

	fmt.Printf("%-36s  %-24s  %-16s  %s\n", "PIPELINE ID", "STAGE", "STATUS", "CAPTURED")
	for _, snap := range snaps {
		fmt.Printf("%-36s  %-24s  %-16s  %s\n",
			snap.PipelineID, snap.CurrentStage, snap.Status, snap.CapturedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}
