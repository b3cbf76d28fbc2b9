package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"forgeline/internal/runstate"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show a run's state: phases, step history, and any pending feedback",
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

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(rs, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Run:      %s\n", rs.RunID)
		fmt.Fprintf(w, "Workflow: %s\n", rs.WorkflowID)
		fmt.Fprintf(w, "Work:     %s\n", rs.WorkID)
		fmt.Fprintf(w, "Context:  %s\n", rs.ContextID)
		fmt.Fprintf(w, "Status:   %s\n", rs.Status)
		if rs.CurrentPhase != "" {
			fmt.Fprintf(w, "At:       %s/%s\n", rs.CurrentPhase, rs.CurrentStep)
		}
		if rs.Error != "" {
			fmt.Fprintf(w, "Error:    %s (at %s/%s)\n", rs.Error, rs.FailedAtPhase, rs.FailedAtStep)
		}
		if rs.FeedbackRequest != "" {
			fmt.Fprintf(w, "Awaiting: %s\n", rs.FeedbackRequest)
			fmt.Fprintf(w, "          answer with: forgeline resume %s --feedback \"...\"\n", rs.RunID)
		}
		for _, gap := range rs.AuditGaps {
			fmt.Fprintf(w, "Audit gap: %s\n", gap)
		}

		fmt.Fprintf(w, "\n%-12s %-12s %s\n", "PHASE", "STATUS", "RETRIES")
		fmt.Fprintf(w, "%-12s %-12s %s\n", strings.Repeat("-", 12), strings.Repeat("-", 12), strings.Repeat("-", 7))
		for _, p := range rs.Phases {
			fmt.Fprintf(w, "%-12s %-12s %d/%d\n", p.Name, p.Status, p.RetryCount, p.MaxRetries)
		}

		if len(rs.Steps) > 0 {
			fmt.Fprintf(w, "\n%-24s %-12s %-14s %s\n", "STEP", "PHASE", "STATUS", "MESSAGE")
			fmt.Fprintf(w, "%-24s %-12s %-14s %s\n",
				strings.Repeat("-", 24), strings.Repeat("-", 12), strings.Repeat("-", 14), strings.Repeat("-", 7))
			for _, s := range rs.Steps {
				msg := s.Message
				if s.Error != "" {
					msg = s.Error
				}
				if len(msg) > 50 {
					msg = msg[:47] + "..."
				}
				fmt.Fprintf(w, "%-24s %-12s %-14s %s\n", s.StepID, s.Phase, s.Status, msg)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("format", "text", "Output format: text or json")
}
