package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop <run-id>",
	Short: "Stop a non-terminal run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		o, _, err := newEngine(cmd, false, false)
		if err != nil {
			return err
		}

		rs, err := o.Stop(args[0], reason)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s\n", rs.RunID, rs.Status)
		return nil
	},
}

func init() {
	stopCmd.Flags().String("reason", "", "Why the run is being stopped")
}
