package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/draft"
)

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "Inspect the local draft cache",
}

var draftsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resumable interrupted executions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := draft.NewFileStore(cfg.DataDir)
		if err != nil {
			return err
		}
		ids, err := store.List()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no drafts")
			return nil
		}
		for _, id := range ids {
			entry, found, err := store.Load(id)
			if err != nil || !found {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (unreadable)\n", id)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s step=%d evidence=%d saved=%s\n",
				id, entry.CurrentStepIndex, len(entry.Evidence), entry.SavedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var draftsClearCmd = &cobra.Command{
	Use:   "clear <task-id>",
	Short: "Drop a draft entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := draft.NewFileStore(cfg.DataDir)
		if err != nil {
			return err
		}
		if err := store.Clear(args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "cleared", args[0])
		return nil
	},
}

func init() {
	draftsCmd.AddCommand(draftsListCmd, draftsClearCmd)
	rootCmd.AddCommand(draftsCmd)
}
