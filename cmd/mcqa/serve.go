package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ricesearch/mcqa/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the classify endpoint over HTTP",
		Long: `Start the HTTP server:
  POST /v1/classify   classify one record
  POST /v1/evaluate   score predictions against gold labels
  GET  /healthz       embedder and scorer readiness
  GET  /metrics       Prometheus metrics

Without --model the server still answers, with degraded uniform results.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			modelPath, _ := cmd.Flags().GetString("model")

			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("host") {
				a.cfg.Server.Host, _ = cmd.Flags().GetString("host")
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port, _ = cmd.Flags().GetInt("port")
			}

			if modelPath != "" {
				if err := a.pipeline.LoadModel(modelPath); err != nil {
					return err
				}
			} else {
				a.log.Warn("No model loaded, classify answers will be degraded")
			}

			srv := server.New(server.ConfigFrom(a.cfg.Server, version), a.pipeline, a.pipeline.Metrics(), a.log)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-cmd.Context().Done():
				a.log.Info("Shutdown signal received")
			}

			return srv.Stop(context.Background())
		},
	}

	cmd.Flags().String("model", "", "saved scorer")
	cmd.Flags().IntP("port", "p", 8090, "HTTP server port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP server host")

	return cmd
}
