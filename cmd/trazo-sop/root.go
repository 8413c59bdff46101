package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/config"
)

var (
	cfgPath string
	cfg     *config.Config
	log     *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "trazo-sop",
	Short: "Execute standard operating procedures step by step",
	Long: `trazo-sop runs SOP templates as guided, evidence-collecting executions:
each step is validated, progress is checkpointed to a local draft cache, and
completion is gated on required evidence and dual sign-off where configured.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		log = cfg.Logger()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a config file (defaults + TRAZO_* env otherwise)")
}
