package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brandon/mail-dedup/internal/mcp"
	"github.com/brandon/mail-dedup/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		readOnly, _ := cmd.Flags().GetBool("read-only")
		ingester := app.ingester
		if readOnly {
			ingester = nil
		}
		server := mcp.NewServer(tools.NewRegistry(app.reports, ingester, app.logger), version, app.logger)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		errChan := make(chan error, 1)
		go func() {
			errChan <- server.Run(ctx, os.Stdin, os.Stdout)
		}()

		select {
		case sig := <-sigChan:
			app.logger.WithField("signal", sig).Info("Received shutdown signal")
			cancel()
			return nil
		case err := <-errChan:
			if err != nil {
				app.logger.WithError(err).Error("Server error")
			}
			app.logger.Info("Shutting down MCP server")
			return err
		}
	},
}

func init() {
	serveCmd.Flags().Bool("read-only", false, "Do not expose the ingest_email tool")
	rootCmd.AddCommand(serveCmd)
}
