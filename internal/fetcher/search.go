package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/mfenderov/dossier/internal/search"
	"github.com/mfenderov/dossier/pkg/models"
	"golang.org/x/sync/errgroup"
)

// SearchFetcher runs a set of templated web searches for one category.
// Templates are rendered against models.ResearchQuery, e.g.
// "{{.Company}} revenue financial results".
type SearchFetcher struct {
	category    models.Category
	templates   []*template.Template
	searcher    search.Searcher
	concurrency int
	now         func() time.Time
}

// NewSearchFetcher parses the query templates for a category.
func NewSearchFetcher(category models.Category, queries []string, searcher search.Searcher, concurrency int) (*SearchFetcher, error) {
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("no queries configured for %s", category)
	}
	if concurrency <= 0 {
		concurrency = 2
	}

	templates := make([]*template.Template, 0, len(queries))
	for i, q := range queries {
		tmpl, err := template.New(fmt.Sprintf("%s-%d", category, i)).Option("missingkey=zero").Parse(q)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s query %q: %w", category, q, err)
		}
		templates = append(templates, tmpl)
	}

	return &SearchFetcher{
		category:    category,
		templates:   templates,
		searcher:    searcher,
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

// Category returns the category this fetcher serves.
func (f *SearchFetcher) Category() models.Category {
	return f.category
}

// Queries renders the search queries for q. Queries that render empty are skipped.
func (f *SearchFetcher) Queries(q models.ResearchQuery) ([]string, error) {
	queries := make([]string, 0, len(f.templates))
	for _, tmpl := range f.templates {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, q); err != nil {
			return nil, fmt.Errorf("failed to render query %s: %w", tmpl.Name(), err)
		}
		if rendered := strings.Join(strings.Fields(buf.String()), " "); rendered != "" {
			queries = append(queries, rendered)
		}
	}
	return queries, nil
}

// Fetch runs every query and returns the hits in query order. It fails only
// when every query fails.
func (f *SearchFetcher) Fetch(ctx context.Context, q models.ResearchQuery) ([]models.Document, error) {
	queries, err := f.Queries(q)
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, nil
	}

	hits := make([][]search.Result, len(queries))
	errs := make([]error, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, query := range queries {
		g.Go(func() error {
			results, err := f.searcher.Search(gctx, query)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("search query failed", "category", f.category, "query", query, "error", err)
				errs[i] = err
				return nil
			}
			hits[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var failed int
	var lastErr error
	for _, err := range errs {
		if err != nil {
			failed++
			lastErr = err
		}
	}
	if failed == len(queries) {
		return nil, fmt.Errorf("all %d %s queries failed: %w", failed, f.category, lastErr)
	}

	retrieved := f.now()
	var docs []models.Document
	for i, results := range hits {
		for _, r := range results {
			content := r.Content
			if len(r.RawContent) > len(content) {
				content = r.RawContent
			}
			docs = append(docs, models.Document{
				URL:         r.URL,
				Title:       r.Title,
				Content:     content,
				Category:    f.category,
				Query:       queries[i],
				RetrievedAt: retrieved,
				Extra: map[string]any{
					models.ExtraProviderScore: r.Score,
					models.ExtraSource:        "search",
				},
			})
		}
	}

	slog.Debug("search fetch complete", "category", f.category, "queries", len(queries), "failed", failed, "documents", len(docs))
	return docs, nil
}
