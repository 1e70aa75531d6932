package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/loadctl/internal/orchestrator"
	"github.com/wesleyorama2/loadctl/internal/orchestrator/engine"
	"github.com/wesleyorama2/loadctl/internal/output"
)

// noExecutor backs engines that only plan or select; nothing is sent.
var noExecutor orchestrator.RequestExecutor

func newSelectCmd(global *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "select <spec-file>",
		Short: "Show which execution strategy a spec would use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := global.setup(cmd)
			if err != nil {
				return err
			}
			ts, err := loadSpec(args[0], nil)
			if err != nil {
				return err
			}

			sel := engine.New(noExecutor, engine.WithConfig(env.cfg), engine.WithLogger(env.logger)).Select(ts)
			if jsonOutput {
				return output.WriteJSON(cmd.OutOrStdout(), sel)
			}
			env.console.PrintSelection(ts.Label(), sel)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the selection as JSON")
	return cmd
}

func newScheduleCmd(global *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "schedule <spec-file>",
		Short: "Show the request schedule a spec would follow",
		Long: `Validate a spec and print its dispatch plan: the selected strategy and,
for every test, the phases and offsets of its request schedule.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := global.setup(cmd)
			if err != nil {
				return err
			}
			ts, err := loadSpec(args[0], nil)
			if err != nil {
				return err
			}

			plan, err := engine.New(noExecutor, engine.WithConfig(env.cfg), engine.WithLogger(env.logger)).Plan(ts)
			if err != nil {
				return validationExit(err)
			}
			if jsonOutput {
				return output.WriteJSON(cmd.OutOrStdout(), plan)
			}
			env.console.PrintPlan(plan)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the plan as JSON, including every offset")
	return cmd
}

func newValidateCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <spec-file>",
		Short: "Check a spec without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := global.setup(cmd)
			if err != nil {
				return err
			}
			ts, err := loadSpec(args[0], nil)
			if err != nil {
				return err
			}

			if err := engine.New(noExecutor, engine.WithConfig(env.cfg)).Validate(ts); err != nil {
				return validationExit(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s is valid\n", output.SuccessIcon(true), args[0])
			return nil
		},
	}
}
