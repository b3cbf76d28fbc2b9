package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a paused run from its recorded resume point",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		feedback, _ := cmd.Flags().GetString("feedback")
		interactive, _ := cmd.Flags().GetBool("interactive")
		allowProtected, _ := cmd.Flags().GetBool("allow-protected")

		o, _, err := newEngine(cmd, interactive, allowProtected)
		if err != nil {
			return err
		}

		rs, err := o.Resume(cmd.Context(), args[0], feedback)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s\n", rs.RunID, rs.Status)
		return nil
	},
}

func init() {
	resumeCmd.Flags().String("feedback", "", "Answer to the run's pending feedback request")
	resumeCmd.Flags().Bool("interactive", false, "Answer approval checkpoints at the terminal instead of pausing")
	resumeCmd.Flags().Bool("allow-protected", false, "Override the protected-target guard for this run")
}
