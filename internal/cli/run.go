package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"forgeline/internal/lock"
)

var runCmd = &cobra.Command{
	Use:   "run <workflow-id>",
	Short: "Start a new workflow run",
	Long: `Start a new run of the named workflow. The run executes until it
completes, fails, or pauses at a checkpoint (pending input, an approval
gate, or a destructive step without --interactive).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workID, _ := cmd.Flags().GetString("work")
		contextID, _ := cmd.Flags().GetString("context")
		interactive, _ := cmd.Flags().GetBool("interactive")
		allowProtected, _ := cmd.Flags().GetBool("allow-protected")

		o, _, err := newEngine(cmd, interactive, allowProtected)
		if err != nil {
			return err
		}

		rs, err := o.Start(cmd.Context(), args[0], workID, contextID)
		if err != nil {
			var conflict *lock.ConflictError
			if errors.As(err, &conflict) {
				return fmt.Errorf("%w\nanother run is active on this context; stop it, wait, or start with a different --context", conflict)
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s\n", rs.RunID, rs.Status)
		return nil
	},
}

func init() {
	runCmd.Flags().String("work", "", "Work item this run is for (issue, ticket, change id)")
	runCmd.Flags().String("context", "", "Execution context to lock (default: the work id)")
	runCmd.Flags().Bool("interactive", false, "Answer approval checkpoints at the terminal instead of pausing")
	runCmd.Flags().Bool("allow-protected", false, "Override the protected-target guard for this run")
	runCmd.MarkFlagRequired("work")
}
