package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"forgeline/internal/workflow"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Inspect and validate workflow definitions",
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available workflow definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		src := workflow.NewDirSource(cfg.WorkflowsDir)
		ids, err := src.IDs()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No workflows found in %s.\n", cfg.WorkflowsDir)
			return nil
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

var workflowShowCmd = &cobra.Command{
	Use:   "show <workflow-id>",
	Short: "Print a workflow's fully resolved definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		def, err := workflow.Resolve(workflow.NewDirSource(cfg.WorkflowsDir), args[0])
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(def)
		if err != nil {
			return fmt.Errorf("marshal definition: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var workflowValidateCmd = &cobra.Command{
	Use:   "validate <workflow-id>",
	Short: "Resolve a workflow and report inheritance or policy errors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		def, err := workflow.Resolve(workflow.NewDirSource(cfg.WorkflowsDir), args[0])
		if err != nil {
			return err
		}

		var steps int
		var enabled []string
		for _, p := range def.EnabledPhases() {
			enabled = append(enabled, p.Name)
			steps += len(p.AllSteps())
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d steps across phases: %s)\n",
			args[0], steps, strings.Join(enabled, ", "))
		return nil
	},
}

func init() {
	workflowCmd.AddCommand(workflowListCmd)
	workflowCmd.AddCommand(workflowShowCmd)
	workflowCmd.AddCommand(workflowValidateCmd)
}
