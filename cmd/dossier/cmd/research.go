package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mfenderov/dossier/pkg/models"
	"github.com/spf13/cobra"
)

var (
	researchCompany  string
	researchURL      string
	researchIndustry string
	researchHQ       string
	researchFormat   string
)

var researchCmd = &cobra.Command{
	Use:   "research",
	Short: "Research a company and print the report",
	Long: `Run one research job in-process. Progress is printed to stderr, the
report to stdout.

Examples:
  # Markdown report
  dossier research --company "Acme Robotics" --url acme.example

  # With context for better queries
  dossier research --company "Acme Robotics" --industry robotics --hq Berlin

  # JSON output for scripting
  dossier research --company "Acme Robotics" --format json`,
	RunE: runResearch,
}

func init() {
	rootCmd.AddCommand(researchCmd)

	researchCmd.Flags().StringVar(&researchCompany, "company", "", "Company name (required)")
	researchCmd.Flags().StringVar(&researchURL, "url", "", "Company website")
	researchCmd.Flags().StringVar(&researchIndustry, "industry", "", "Industry")
	researchCmd.Flags().StringVar(&researchHQ, "hq", "", "Headquarters location")
	researchCmd.Flags().StringVar(&researchFormat, "format", "markdown", "Output format: text, json or markdown")
	researchCmd.MarkFlagRequired("company")
}

func runResearch(cmd *cobra.Command, args []string) error {
	switch researchFormat {
	case "text", "json", "markdown":
	default:
		return fmt.Errorf("unknown format %q", researchFormat)
	}

	q := models.ResearchQuery{
		Company:    researchCompany,
		URL:        researchURL,
		Industry:   researchIndustry,
		HQLocation: researchHQ,
	}
	if err := q.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	jobID := uuid.NewString()
	progress := &progressPrinter{w: cmd.ErrOrStderr(), start: time.Now()}

	report, err := a.pipeline.Run(ctx, jobID, q, progress)
	if err != nil {
		return fmt.Errorf("research failed: %w", err)
	}

	return printReport(cmd.OutOrStdout(), report, researchFormat)
}

func printReport(w io.Writer, report *models.Report, format string) error {
	switch format {
	case "json":
		output, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(output))
	case "text":
		fmt.Fprintf(w, "Job:      %s\n", report.JobID)
		fmt.Fprintf(w, "Company:  %s\n", report.Query.Company)
		for _, b := range report.Briefings {
			fmt.Fprintf(w, "%-10s %-12s %d sources\n", b.Category, b.Status, len(b.Sources))
		}
		fmt.Fprintf(w, "References: %d\n\n", len(report.References))
		fmt.Fprint(w, report.Content)
	default:
		fmt.Fprint(w, report.Content)
	}
	return nil
}

// progressPrinter writes one line per progress event. Report chunks are
// summarized; the report itself goes to stdout.
type progressPrinter struct {
	mu    sync.Mutex
	w     io.Writer
	start time.Time
}

func (p *progressPrinter) Emit(stage models.Stage, status models.Status, message string, _ map[string]any) {
	if status == models.StatusReportChunk {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "[%6.1fs] %-9s %-18s %s\n", time.Since(p.start).Seconds(), stage, status, message)
}
