package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"forgeline/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events <run-id>",
	Short: "Print a run's event log in order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		filter := events.Filter{}
		filter.Type, _ = cmd.Flags().GetString("type")
		filter.Phase, _ = cmd.Flags().GetString("phase")
		filter.StepID, _ = cmd.Flags().GetString("step")

		log := events.NewLog(cfg.RunsDir())
		r, err := log.Read(args[0], filter)
		if err != nil {
			return err
		}
		defer r.Close()

		format, _ := cmd.Flags().GetString("format")
		w := cmd.OutOrStdout()
		for {
			e, err := r.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if format == "json" {
				data, _ := json.Marshal(e)
				fmt.Fprintln(w, string(data))
				continue
			}
			loc := e.Phase
			if e.StepID != "" {
				loc = e.Phase + "/" + e.StepID
			}
			fmt.Fprintf(w, "%6d  %-28s %-24s %-22s %s\n", e.EventID, e.Timestamp, e.Type, loc, e.Message)
		}
	},
}

func init() {
	eventsCmd.Flags().String("type", "", "Filter by event type")
	eventsCmd.Flags().String("phase", "", "Filter by phase")
	eventsCmd.Flags().String("step", "", "Filter by step id")
	eventsCmd.Flags().String("format", "text", "Output format: text or json")
}
