package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"forgeline/internal/lock"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect and manage execution-context locks",
}

var lockStatusCmd = &cobra.Command{
	Use:   "status <context-id>",
	Short: "Show who holds a context's lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		m := lock.NewManager(cfg.LocksDir(), cfg.LockStaleAfter)

		tok, err := m.Status(args[0])
		if err != nil {
			return err
		}
		if tok == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "context %q is unlocked\n", args[0])
			return nil
		}
		stale, err := m.IsStale(args[0])
		if err != nil {
			return err
		}
		state := "live"
		if stale {
			state = "stale"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "context %q locked by %s (pid %d) since %s [%s]\n",
			args[0], tok.Holder, tok.PID, tok.AcquiredAt.Format(time.RFC3339), state)
		return nil
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "release <context-id>",
	Short: "Force-release a context's lock",
	Long: `Remove a context's lock regardless of holder. Only use this when the
holder is known dead; a live holder will lose its mutual exclusion.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		m := lock.NewManager(cfg.LocksDir(), cfg.LockStaleAfter)
		if err := m.ForceRelease(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "released lock on context %q\n", args[0])
		return nil
	},
}

func init() {
	lockCmd.AddCommand(lockStatusCmd)
	lockCmd.AddCommand(lockReleaseCmd)
}
