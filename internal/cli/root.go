package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "forgeline",
	Short: "forgeline is a multi-phase workflow execution engine",
	Long: `forgeline drives software-delivery workflows through a fixed pipeline
(frame, architect, build, evaluate, release) of configurable steps.

Runs are durable and resumable: state lives in ~/.forgeline/ (JSON run
records, an append-only event log per run, SQLite for cross-run history).
Steps are executed by external capabilities; guards and approval gates
stand between the engine and anything risky.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to engine config (default: ./forgeline.yaml, ~/.forgeline/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(dbCmd)
}
