package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mfenderov/dossier/internal/processor"
	"github.com/mfenderov/dossier/internal/scraper"
	"github.com/mfenderov/dossier/pkg/models"
)

// DefaultSiteScore is the provider score of a page from the company's own site.
const DefaultSiteScore = 0.7

// SiteFetcher crawls the company's own website.
type SiteFetcher struct {
	scraper   *scraper.Scraper
	processor *processor.Processor
	score     float64
}

// NewSiteFetcher creates a fetcher backed by the given scraper. Every page is
// given score as its provider score; score <= 0 means DefaultSiteScore.
func NewSiteFetcher(s *scraper.Scraper, p *processor.Processor, score float64) *SiteFetcher {
	if score <= 0 {
		score = DefaultSiteScore
	}
	return &SiteFetcher{scraper: s, processor: p, score: score}
}

// Category returns models.CategoryCompany.
func (f *SiteFetcher) Category() models.Category {
	return models.CategoryCompany
}

// Fetch scrapes q.URL and converts each page to markdown. A query without a
// URL yields no documents.
func (f *SiteFetcher) Fetch(ctx context.Context, q models.ResearchQuery) ([]models.Document, error) {
	if q.URL == "" {
		return nil, nil
	}

	startURL := q.URL
	if !strings.Contains(startURL, "://") {
		startURL = "https://" + startURL
	}

	pages, err := f.scraper.Scrape(ctx, startURL)
	if err != nil && len(pages) == 0 {
		return nil, fmt.Errorf("failed to scrape %s: %w", startURL, err)
	}

	docs := make([]models.Document, 0, len(pages))
	for _, page := range pages {
		md, title, err := f.processor.ToMarkdown(page.ContentType, page.Content)
		if err != nil {
			slog.Warn("failed to convert page", "url", page.URL, "error", err)
			continue
		}
		if strings.TrimSpace(md) == "" {
			continue
		}
		if title == "" {
			title = q.Company
		}
		docs = append(docs, models.Document{
			URL:         page.URL,
			Title:       title,
			Content:     md,
			Category:    models.CategoryCompany,
			Query:       "company website",
			RetrievedAt: page.FetchedAt,
			Extra: map[string]any{
				models.ExtraSource:        "site",
				models.ExtraProviderScore: f.score,
			},
		})
	}

	return docs, nil
}
