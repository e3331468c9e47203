package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/excelmind/internal/http"
)

type serveOptions struct {
	host         string
	port         int
	maxBodyBytes string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the task API over HTTP",
		Long: `Serve the task API over HTTP until interrupted.

Endpoints:
  POST   /api/v1/tasks      run a task
  GET    /api/v1/tasks      list running tasks
  DELETE /api/v1/tasks/:id  cancel a task
  GET    /api/v1/tools      list tool definitions
  GET    /api/v1/logs       recent orchestrator log entries
  GET    /health            liveness
  GET    /metrics           Prometheus metrics

Examples:
  excelmind serve
  excelmind serve --host 0.0.0.0 --port 8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			cfg, err := loadConfig(root.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = opts.port
			}
			a, err := newApp(ctx, cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			srv, err := httpserver.NewServer(a.orch, a.registry, a.logger.Underlying(), &httpserver.Config{
				Host:         opts.host,
				Port:         cfg.Server.Port,
				MaxBodyBytes: opts.maxBodyBytes,
			})
			if err != nil {
				return fmt.Errorf("failed to create http server: %w", err)
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info(ctx, "http server listening", zap.String("addr", srv.Addr()))
				errCh <- srv.Start()
			}()

			select {
			case sig := <-sigCh:
				a.logger.Info(ctx, "received signal, shutting down", zap.String("signal", sig.String()))
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server error: %w", err)
				}
				return nil
			}

			// In-flight tasks settle as CANCELLED.
			for _, id := range a.orch.Running() {
				a.orch.Cancel(id)
			}
			shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error(ctx, "http server shutdown error", zap.Error(err))
				return err
			}
			a.logger.Info(ctx, "shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.host, "host", "localhost", "address to bind")
	cmd.Flags().IntVar(&opts.port, "port", 0, "port to bind (overrides server.http_port)")
	cmd.Flags().StringVar(&opts.maxBodyBytes, "max-body", "32M", "largest accepted request body")
	return cmd
}
