package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mfenderov/dossier/internal/briefing"
	"github.com/mfenderov/dossier/internal/collector"
	"github.com/mfenderov/dossier/internal/curator"
	"github.com/mfenderov/dossier/internal/editor"
	"github.com/mfenderov/dossier/internal/events"
	"github.com/mfenderov/dossier/internal/fetcher"
	"github.com/mfenderov/dossier/internal/scoring"
	"github.com/mfenderov/dossier/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Config holds pipeline configuration.
type Config struct {
	Curation     curator.Options
	FetchTimeout time.Duration // per fetcher
}

// ReportSink archives finished reports.
type ReportSink interface {
	PutReport(ctx context.Context, report *models.Report) error
}

// Enricher looks up the approximate employee count of a company.
type Enricher interface {
	EmployeeCount(ctx context.Context, q models.ResearchQuery) (int, error)
}

// Pipeline runs research jobs: fetch, collect, score, curate, brief, edit.
type Pipeline struct {
	config      Config
	fetchers    []fetcher.Fetcher
	scorer      scoring.Scorer
	synthesizer *briefing.Synthesizer
	sink        ReportSink // nil if archiving disabled
	enricher    Enricher   // nil if enrichment disabled
}

// Option configures optional pipeline collaborators.
type Option func(*Pipeline)

// WithSink archives every finished report to sink.
func WithSink(sink ReportSink) Option {
	return func(p *Pipeline) { p.sink = sink }
}

// WithEnricher looks up the employee count alongside fetching.
func WithEnricher(e Enricher) Option {
	return func(p *Pipeline) { p.enricher = e }
}

// New creates a new Pipeline.
func New(config Config, fetchers []fetcher.Fetcher, scorer scoring.Scorer, synthesizer *briefing.Synthesizer, opts ...Option) (*Pipeline, error) {
	if len(fetchers) == 0 {
		return nil, fmt.Errorf("at least one fetcher is required")
	}
	if scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}
	if synthesizer == nil {
		return nil, fmt.Errorf("synthesizer is required")
	}

	p := &Pipeline{
		config:      config,
		fetchers:    fetchers,
		scorer:      scorer,
		synthesizer: synthesizer,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run executes one research job and returns the compiled report. Source and
// synthesis failures degrade single categories; only cancellation
// (models.ErrJobCancelled) and invariant violations (models.ErrFatalPipeline)
// fail the job.
func (p *Pipeline) Run(ctx context.Context, jobID string, q models.ResearchQuery, emit events.Emitter) (*models.Report, error) {
	if emit == nil {
		emit = events.Discard
	}
	start := time.Now()
	log := slog.With("job_id", jobID)

	categories := make([]string, len(p.fetchers))
	for i, f := range p.fetchers {
		categories[i] = string(f.Category())
	}
	emit.Emit(models.StageFetch, models.StatusFetching, fmt.Sprintf("researching %s", q.Company), map[string]any{
		"categories": categories,
	})

	employees := p.enrich(ctx, jobID, q)

	results := fetcher.Run(ctx, p.fetchers, q, p.config.FetchTimeout)
	coll, err := collector.Collect(ctx, results, len(p.fetchers), emit)
	if err != nil {
		return nil, err
	}
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	log.Info("documents collected", "documents", coll.Len())

	emit.Emit(models.StageCurate, models.StatusCurating, fmt.Sprintf("scoring %d documents", coll.Len()), nil)
	scores, err := p.scorer.Score(ctx, q, coll.All())
	if err != nil {
		if cerr := checkpoint(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: failed to score documents: %w", models.ErrFatalPipeline, err)
	}

	curated, err := curator.Curate(coll, p.config.Curation, func(d models.Document) float64 {
		return scores[d.ID]
	})
	if err != nil {
		return nil, err
	}
	employeeCount, err := employees()
	if err != nil {
		return nil, err
	}
	publishDecisions(curated, employeeCount, emit)

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}

	briefings, err := p.brief(ctx, q, coll, curated, emit)
	if err != nil {
		return nil, err
	}

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}

	report := editor.Compile(jobID, q, briefings, func(chunk models.ReportChunk) {
		emit.Emit(models.StageEditor, models.StatusReportChunk, fmt.Sprintf("report section %d", chunk.Index), map[string]any{
			"index":    chunk.Index,
			"category": string(chunk.Category),
			"text":     chunk.Text,
		})
	}, editor.WithEmployeeCount(employeeCount))

	if p.sink != nil {
		if err := p.sink.PutReport(ctx, report); err != nil {
			log.Warn("failed to archive report", "error", err)
		}
	}

	log.Info("report complete", "duration", time.Since(start), "references", len(report.References))
	emit.Emit(models.StageEditor, models.StatusReportComplete, "report complete", map[string]any{
		"job_id":     jobID,
		"references": len(report.References),
		"report":     report.Content,
	})

	return report, nil
}

// enrich starts the employee count lookup and returns a function that waits
// for it. An unknown count is 0; lookup failures never fail the job.
func (p *Pipeline) enrich(ctx context.Context, jobID string, q models.ResearchQuery) func() (int, error) {
	if p.enricher == nil {
		return func() (int, error) { return 0, nil }
	}

	result := make(chan int, 1)
	go func() {
		n, err := p.enricher.EmployeeCount(ctx, q)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("employee count unavailable", "job_id", jobID, "error", err)
			}
			n = 0
		}
		result <- n
	}()

	return func() (int, error) {
		select {
		case n := <-result:
			return n, nil
		case <-ctx.Done():
			return 0, checkpoint(ctx)
		}
	}
}

func publishDecisions(curated curator.Result, employeeCount int, emit events.Emitter) {
	for _, d := range curated.Decisions {
		status := models.StatusDocumentKept
		verb := "kept"
		if !d.Kept {
			status = models.StatusDocumentDropped
			verb = "dropped"
		}
		payload := map[string]any{
			"category": string(d.Document.Category),
			"title":    d.Document.Title,
			"url":      d.Document.URL,
			"score":    d.Document.ScoreValue(),
		}
		if d.Reason != "" {
			payload["reason"] = d.Reason
		}
		emit.Emit(models.StageCurate, status, fmt.Sprintf("%s document: %s", verb, d.Document.Title), payload)
	}

	counts := make(map[string]curator.Stats, len(curated.Stats))
	for c, s := range curated.Stats {
		counts[string(c)] = s
	}
	payload := map[string]any{
		"counts": counts,
		"kept":   len(curated.All()),
	}
	if employeeCount > 0 {
		payload["employee_count"] = employeeCount
	}
	emit.Emit(models.StageCurate, models.StatusCurating, "curation complete", payload)
}

// brief synthesizes every category concurrently. Categories whose source
// failed are marked unavailable without synthesis.
func (p *Pipeline) brief(ctx context.Context, q models.ResearchQuery, coll *collector.Collection, curated curator.Result, emit events.Emitter) ([]models.Briefing, error) {
	categories := curated.Categories()
	briefings := make([]models.Briefing, len(categories))

	g, gctx := errgroup.WithContext(ctx)
	for i, category := range categories {
		g.Go(func() error {
			emit.Emit(models.StageBriefing, models.StatusBriefingStart, fmt.Sprintf("writing %s briefing", category), map[string]any{
				"category": string(category),
			})

			var b models.Briefing
			if ferr := coll.Failure(category); ferr != nil {
				reason := "source unavailable"
				if errors.Is(ferr, fetcher.ErrNotConfigured) {
					reason = "no source configured"
				}
				b = models.Briefing{
					Category: category,
					Status:   models.BriefingUnavailable,
					Reason:   reason,
				}
			} else {
				var err error
				b, err = p.synthesizer.Synthesize(gctx, q, category, curated.Category(category))
				if errors.Is(err, models.ErrJobCancelled) {
					return err
				}
			}
			briefings[i] = b

			payload := map[string]any{
				"category": string(category),
				"status":   string(b.Status),
				"sources":  len(b.Sources),
			}
			if b.Reason != "" {
				payload["reason"] = b.Reason
			}
			emit.Emit(models.StageBriefing, models.StatusBriefingComplete, fmt.Sprintf("%s briefing %s", category, b.Status), payload)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return briefings, nil
}

func checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", models.ErrJobCancelled, err)
	}
	return nil
}
