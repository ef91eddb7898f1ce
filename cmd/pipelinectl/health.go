package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scientistigwe/pipelinecore/pkg/metrics"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Boot every collaborator and report their startup health",
	Long: `Health boots one App the way "apply" would, then reports what
each long-running collaborator (broker dispatch pool, CPM, staging
manager) registered about itself during startup, before tearing the
App down again. It is a smoke test for --data-dir, not a live probe of
a running pipeline -- there is no daemon to probe.`,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")

	app, err := NewApp(dataDir)
	if err != nil {
		return err
	}
	defer app.Close()

	status := metrics.GetHealth()
	fmt.Printf("Status: %s (uptime %s)\n", status.Status, status.Uptime.Round(time.Millisecond))
	for name, state := range status.Components {
		fmt.Printf("  %-10s %s\n", name, state)
	}
	return nil
}
