package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"forgeline/internal/runstate"
)

var backupCmd = &cobra.Command{
	Use:   "backup <run-id>",
	Short: "Snapshot a run's state before editing it by hand",
	Long: `Copy the run's current state record into its backups directory. Take one
before any manual edit of run.json; a record that later fails to parse is
reported with the most recent backup path so it can be restored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store := runstate.NewStore(cfg.RunsDir())
		path, err := store.Backup(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "backed up run %s to %s\n", args[0], path)
		return nil
	},
}
