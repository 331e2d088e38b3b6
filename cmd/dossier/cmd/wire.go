package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mfenderov/dossier/internal/briefing"
	"github.com/mfenderov/dossier/internal/cache"
	"github.com/mfenderov/dossier/internal/config"
	"github.com/mfenderov/dossier/internal/curator"
	"github.com/mfenderov/dossier/internal/elasticsearch"
	"github.com/mfenderov/dossier/internal/embeddings"
	"github.com/mfenderov/dossier/internal/enrich"
	"github.com/mfenderov/dossier/internal/events"
	"github.com/mfenderov/dossier/internal/fetcher"
	"github.com/mfenderov/dossier/internal/jobs"
	"github.com/mfenderov/dossier/internal/llm"
	"github.com/mfenderov/dossier/internal/pipeline"
	"github.com/mfenderov/dossier/internal/processor"
	"github.com/mfenderov/dossier/internal/scoring"
	"github.com/mfenderov/dossier/internal/scraper"
	"github.com/mfenderov/dossier/internal/search"
	"github.com/mfenderov/dossier/internal/storage"
	"github.com/mfenderov/dossier/pkg/models"
)

const systemPrompt = "You are a business research analyst. Write factual, concise briefings and cite sources by their number."

// app holds the wired components shared by the commands.
type app struct {
	pipeline *pipeline.Pipeline
	bus      *events.Bus
	archive  *storage.Client // nil if archiving disabled
	closers  []func() error
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Warn("failed to close resource", "error", err)
		}
	}
}

// newJobManager creates a job manager over the app's pipeline and bus.
func (a *app) newJobManager(cfg config.Config) *jobs.Manager {
	var archive jobs.Archive
	if a.archive != nil {
		archive = a.archive
	}
	return jobs.NewManager(a.pipeline, a.bus, archive, jobs.Config{MaxJobs: cfg.Jobs.MaxJobs})
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{
		bus: events.New(events.Config{Buffer: cfg.Events.Buffer, History: cfg.Events.History}),
	}

	proc := processor.New()

	searcher, err := a.buildSearcher(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	fetchers, err := buildFetchers(cfg, searcher, proc)
	if err != nil {
		a.Close()
		return nil, err
	}

	scorer, err := buildScorer(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	client, err := buildLLM(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	synthesizer := buildSynthesizer(cfg, client)

	var opts []pipeline.Option
	if client != nil && cfg.LLM.EmployeeCount {
		opts = append(opts, pipeline.WithEnricher(enrich.New(client, enrich.Config{
			Retries: cfg.Synthesis.Retries,
			Backoff: cfg.Synthesis.Backoff,
			Timeout: cfg.Timeouts.Synthesis,
		})))
	}
	if cfg.Storage.Enabled {
		archive, err := buildArchive(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.archive = archive
		opts = append(opts, pipeline.WithSink(archive))
	}

	a.pipeline, err = pipeline.New(pipeline.Config{
		Curation: curator.Options{
			Threshold: cfg.Curation.Threshold,
			Cap:       cfg.Curation.Cap,
		},
		FetchTimeout: cfg.Timeouts.Fetch,
	}, fetchers, scorer, synthesizer, opts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	return a, nil
}

// buildSearcher returns nil when no search API key is configured.
func (a *app) buildSearcher(ctx context.Context, cfg config.Config) (search.Searcher, error) {
	if cfg.Search.APIKey == "" {
		slog.Warn("no search API key configured, web search disabled")
		return nil, nil
	}

	client, err := search.New(search.Config{
		Endpoint:   cfg.Search.Endpoint,
		APIKey:     cfg.Search.APIKey,
		Depth:      cfg.Search.Depth,
		MaxResults: cfg.Search.MaxResults,
		Timeout:    cfg.Search.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create search client: %w", err)
	}
	if !cfg.Cache.Enabled {
		return client, nil
	}

	rdb, err := cache.New(ctx, cache.Config{
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	})
	if err != nil {
		slog.Warn("search cache unavailable, continuing without it", "error", err)
		return client, nil
	}
	a.closers = append(a.closers, rdb.Close)
	return search.NewCached(client, rdb, cfg.Cache.TTL), nil
}

func buildFetchers(cfg config.Config, searcher search.Searcher, proc *processor.Processor) ([]fetcher.Fetcher, error) {
	var fetchers []fetcher.Fetcher
	var configured int

	for _, category := range models.Categories() {
		var sources []fetcher.Fetcher

		if queries := cfg.Queries[string(category)]; searcher != nil && len(queries) > 0 {
			f, err := fetcher.NewSearchFetcher(category, queries, searcher, cfg.Search.Concurrency)
			if err != nil {
				return nil, fmt.Errorf("failed to create %s search fetcher: %w", category, err)
			}
			sources = append(sources, f)
		}

		switch category {
		case models.CategoryCompany:
			if cfg.Scraper.Enabled {
				s := scraper.New(scraper.Config{
					Delay:       cfg.Scraper.Delay,
					MaxDepth:    cfg.Scraper.MaxDepth,
					MaxPages:    cfg.Scraper.MaxPages,
					FollowLinks: cfg.Scraper.FollowLinks,
					UserAgent:   cfg.Scraper.UserAgent,
					Timeout:     cfg.Scraper.Timeout,
				})
				sources = append(sources, fetcher.NewSiteFetcher(s, proc, cfg.Scraper.Score))
			}
		case models.CategoryNews:
			if cfg.News.Enabled {
				f, err := fetcher.NewFeedFetcher(fetcher.FeedConfig{
					URLTemplate:    cfg.News.FeedURL,
					MaxItems:       cfg.News.MaxItems,
					ExtractContent: cfg.News.ExtractContent,
					Workers:        cfg.News.Workers,
					Timeout:        cfg.News.Timeout,
					Score:          cfg.News.Score,
				}, proc)
				if err != nil {
					return nil, fmt.Errorf("failed to create news feed fetcher: %w", err)
				}
				sources = append(sources, f)
			}
		}

		if len(sources) == 0 {
			slog.Warn("no sources configured for category, it will be reported unavailable", "category", category)
			fetchers = append(fetchers, fetcher.Unconfigured(category))
			continue
		}
		configured++
		fetchers = append(fetchers, fetcher.Merge(category, sources...))
	}

	if configured == 0 {
		return nil, errors.New("no sources configured: set search.api_key or enable news/scraper")
	}
	return fetchers, nil
}

func buildScorer(ctx context.Context, cfg config.Config) (scoring.Scorer, error) {
	provider := scoring.Provider{Default: cfg.Scoring.DefaultScore}

	switch cfg.Scoring.Strategy {
	case config.ScoringElasticsearch:
		es, err := elasticsearch.New(elasticsearch.Config{
			Addresses: cfg.Elasticsearch.Addresses,
			Index:     cfg.Elasticsearch.Index,
			Username:  cfg.Elasticsearch.Username,
			Password:  cfg.Elasticsearch.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Elasticsearch: %w", err)
		}
		if err := es.CreateIndex(ctx); err != nil {
			slog.Warn("failed to create scoring index, provider scores will be used", "error", err)
		}
		return scoring.Fallback(scoring.NewBM25(es), provider), nil

	case config.ScoringEmbeddings:
		emb, err := embeddings.New(embeddings.Config{
			SocketPath: cfg.Embeddings.SocketPath,
			BaseURL:    cfg.Embeddings.BaseURL,
			APIKey:     cfg.Embeddings.APIKey,
			Model:      cfg.Embeddings.Model,
			Timeout:    cfg.Embeddings.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create embeddings client: %w", err)
		}
		return scoring.Fallback(scoring.NewSemantic(emb, cfg.Scoring.Concurrency), provider), nil

	default:
		return provider, nil
	}
}

// buildLLM returns nil when the LLM is disabled.
func buildLLM(cfg config.Config) (*llm.Client, error) {
	if !cfg.LLM.Enabled {
		return nil, nil
	}
	client, err := llm.New(llm.Config{
		SocketPath: cfg.LLM.SocketPath,
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		MaxTokens:  cfg.LLM.MaxTokens,
		System:     systemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return client, nil
}

func buildSynthesizer(cfg config.Config, client *llm.Client) *briefing.Synthesizer {
	var generator briefing.Generator
	if client != nil {
		generator = client
	}

	return briefing.New(generator, briefing.Config{
		Retries:          cfg.Synthesis.Retries,
		Backoff:          cfg.Synthesis.Backoff,
		MaxBackoff:       cfg.Synthesis.MaxBackoff,
		Timeout:          cfg.Timeouts.Synthesis,
		MaxDocuments:     cfg.Synthesis.MaxDocuments,
		MaxDocumentChars: cfg.Synthesis.MaxDocumentChars,
	})
}

func buildArchive(ctx context.Context, cfg config.Config) (*storage.Client, error) {
	client, err := newStorageClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket: %w", err)
	}
	return client, nil
}

func newStorageClient(cfg config.Config) (*storage.Client, error) {
	client, err := storage.New(storage.Config{
		Endpoint:        cfg.Storage.Endpoint,
		Bucket:          cfg.Storage.Bucket,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		UseSSL:          cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return client, nil
}
