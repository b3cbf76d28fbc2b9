package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"forgeline/internal/db"
	"forgeline/internal/events"
	"forgeline/internal/runstate"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate <run-id>",
	Short: "Fold a run's event log into the project history database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		store := runstate.NewStore(cfg.RunsDir())
		rs, err := store.Load(args[0])
		if err != nil {
			return err
		}
		evs, err := events.NewLog(cfg.RunsDir()).ReadAll(args[0], events.Filter{})
		if err != nil {
			return err
		}

		d, err := db.Open(cfg.DBPath())
		if err != nil {
			return err
		}
		defer d.Close()
		if err := d.Migrate(); err != nil {
			return err
		}
		if err := d.AggregateRun(rs, evs); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "aggregated run %s (%d events)\n", rs.RunID, len(evs))
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List aggregated runs from the project history database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		workflowID, _ := cmd.Flags().GetString("workflow")

		d, err := db.Open(cfg.DBPath())
		if err != nil {
			return err
		}
		defer d.Close()
		if err := d.Migrate(); err != nil {
			return err
		}

		runs, err := d.ListRuns(workflowID)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No aggregated runs.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-36s %-16s %-12s %-12s %-20s %s\n", "RUN", "WORKFLOW", "WORK", "STATUS", "STARTED", "ERROR")
		fmt.Fprintf(w, "%-36s %-16s %-12s %-12s %-20s %s\n",
			strings.Repeat("-", 36), strings.Repeat("-", 16), strings.Repeat("-", 12),
			strings.Repeat("-", 12), strings.Repeat("-", 20), strings.Repeat("-", 5))
		for _, r := range runs {
			errText := r.Error
			if len(errText) > 40 {
				errText = errText[:37] + "..."
			}
			fmt.Fprintf(w, "%-36s %-16s %-12s %-12s %-20s %s\n",
				r.RunID, r.WorkflowID, r.WorkID, r.Status, r.StartedAt, errText)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().String("workflow", "", "Filter by workflow id")
}
