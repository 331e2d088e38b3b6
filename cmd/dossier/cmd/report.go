package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	reportFormat string
	reportList   bool
)

var reportCmd = &cobra.Command{
	Use:   "report [job-id]",
	Short: "Print an archived report",
	Long: `Print a report from the S3/MinIO archive.

Examples:
  # Markdown report
  dossier report 6f1c0a52-9a51-4d6b-8d3e-3b1f0c2a7e10

  # List archived job IDs
  dossier report --list`,
	Args: func(cmd *cobra.Command, args []string) error {
		if reportList {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportFormat, "format", "markdown", "Output format: text, json or markdown")
	reportCmd.Flags().BoolVar(&reportList, "list", false, "List archived job IDs")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	if !cfg.Storage.Enabled {
		return fmt.Errorf("report archive is disabled (set storage.enabled)")
	}

	client, err := newStorageClient(cfg)
	if err != nil {
		return err
	}

	if reportList {
		ids, err := client.ListReports(ctx)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No archived reports.")
			return nil
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	}

	report, err := client.GetReport(ctx, args[0])
	if err != nil {
		return err
	}
	return printReport(cmd.OutOrStdout(), report, reportFormat)
}
