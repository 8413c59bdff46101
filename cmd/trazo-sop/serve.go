package main

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/api"
	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/compress"
	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/draft"
	"github.com/anejaagam/trazo-mvp-v1-sub005/internal/sop"
)

var serveTemplates []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve executions over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var templates []*sop.SOPTemplate
		for _, path := range serveTemplates {
			tpl, err := sop.LoadTemplate(path)
			if err != nil {
				return err
			}
			templates = append(templates, tpl)
		}

		store, err := draft.NewFileStore(cfg.DataDir)
		if err != nil {
			return err
		}
		pipeline := compress.NewPipeline()
		if cfg.CompressionThreshold > 0 {
			pipeline.Threshold = cfg.CompressionThreshold
		}

		srv := api.NewServer(api.Options{
			Templates:   templates,
			Drafts:      store,
			Compression: pipeline,
			Logger:      log.WithField("component", "api"),
		})
		log.WithField("addr", cfg.ListenAddr).Info("api listening")
		return http.ListenAndServe(cfg.ListenAddr, srv.Handler())
	},
}

func init() {
	serveCmd.Flags().StringSliceVar(&serveTemplates, "template", nil, "template YAML file to serve (repeatable)")
	rootCmd.AddCommand(serveCmd)
}
