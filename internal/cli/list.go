package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"forgeline/internal/runstate"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest last",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		statusFilter, _ := cmd.Flags().GetString("status")

		store := runstate.NewStore(cfg.RunsDir())
		runs, err := store.List(statusFilter)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(runs, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-36s %-16s %-12s %-12s %s\n", "RUN", "WORKFLOW", "WORK", "STATUS", "STARTED")
		fmt.Fprintf(w, "%-36s %-16s %-12s %-12s %s\n",
			strings.Repeat("-", 36), strings.Repeat("-", 16), strings.Repeat("-", 12),
			strings.Repeat("-", 12), strings.Repeat("-", 7))
		for _, r := range runs {
			fmt.Fprintf(w, "%-36s %-16s %-12s %-12s %s\n", r.RunID, r.WorkflowID, r.WorkID, r.Status, r.StartedAt)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().String("status", "", "Filter by run status")
	listCmd.Flags().String("format", "text", "Output format: text or json")
}
