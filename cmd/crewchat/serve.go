package main

import (
	"github.com/spf13/cobra"

	"github.com/namikmesic/crewchat/internal/viewer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the transcript viewer without the interactive chat",
	Long: `serve runs the local viewer on CREW_VIEWER_ADDR. It polls the server
status and lets tool calls be approved or denied from the browser.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		go rt.ctrl.PollStatus(ctx, cfg.PollInterval)
		return viewer.New(rt.ctrl, viewerTitle()).ListenAndServe(ctx, cfg.ViewerAddr)
	},
}
