package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/mfenderov/dossier/internal/api"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API for research jobs.

Endpoints:
  POST   /api/research             start a job
  GET    /api/research/:id         job status
  GET    /api/research/:id/report  markdown report (?format=json for JSON)
  GET    /api/research/:id/events  live progress (Server-Sent Events)
  DELETE /api/research/:id         cancel a job

Example:
  dossier serve --addr :8080`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	manager := a.newJobManager(cfg)
	server := api.NewServer(manager, api.Config{
		Addr:               cfg.Server.Addr,
		CancelOnDisconnect: cfg.Server.CancelOnDisconnect,
		KeepAlive:          cfg.Server.KeepAlive,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	fmt.Fprintf(cmd.ErrOrStderr(), "Listening on %s\n", cfg.Server.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return manager.Shutdown(shutdownCtx)
}
