package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/engine"
	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/sop"
)

var validateCmd = &cobra.Command{
	Use:   "validate <template.yaml>",
	Short: "Check a template for structural and authoring problems",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tpl, err := sop.LoadTemplate(args[0])
		if err != nil {
			return err
		}

		// Structural validation passed during load; surface authoring
		// problems the runtime only degrades around, like branch rules
		// pointing at unknown steps.
		diags := engine.BranchDiagnostics(tpl)
		for _, d := range diags {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning:", d)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d steps, ok\n", tpl.ID, len(tpl.Steps))
		if len(diags) != 0 {
			return fmt.Errorf("%d branch rule problem(s)", len(diags))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
