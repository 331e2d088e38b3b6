package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/mfenderov/dossier/internal/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server",
	Long: `Start the MCP server for company research.

The server communicates via stdio and provides three tools:
  - start_research: Start researching a company
  - get_research: Get job status and the finished markdown report
  - cancel_research: Cancel a running job

Example:
  dossier mcp`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	manager := a.newJobManager(cfg)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown)
		defer cancel()
		manager.Shutdown(shutdownCtx)
	}()

	server := mcp.NewServer(manager, mcp.Config{
		Name:    cfg.MCP.Name,
		Version: cfg.MCP.Version,
		MaxWait: cfg.MCP.MaxWait,
	})

	fmt.Fprintln(cmd.ErrOrStderr(), "Starting MCP server...")

	return server.ServeStdio()
}
