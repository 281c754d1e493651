package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/root4loot/pagesnap/internal/server"
	"github.com/root4loot/pagesnap/pkg/screener"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the screenshot tool over HTTP",
		Long: `Serve exposes POST /v1/screenshot, which streams the progress of a capture
as newline-delimited JSON and ends with the image, plus /healthz and /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				a.cfg.Listen = listen
			}
			t, err := a.newTool()
			if err != nil {
				return err
			}
			screener.UseStructuredLogs()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return server.New(t).Run(ctx, a.cfg.Listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":8080", "address to listen on")
	return cmd
}
