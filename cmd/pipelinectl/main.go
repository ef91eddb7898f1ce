package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scientistigwe/pipelinecore/pkg/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pipelinectl",
	Short: "Drive and inspect pipelinecore pipelines",
	Long: `pipelinectl is a standalone client for pipelinecore: it boots the
Message Broker, Control-Point Manager, Staging Manager, Conductor, and
a facade per processing department in-process, submits or drives a
pipeline, and tears everything down when the command returns. There is
no daemon to connect to -- each invocation is self-contained, and the
only state that survives between invocations is whatever "apply"
persisted to --data-dir.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./pipelinecore-data", "Directory holding the staging/snapshot bbolt database")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
