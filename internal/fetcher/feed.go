package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"text/template"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/mfenderov/dossier/internal/processor"
	"github.com/mfenderov/dossier/pkg/models"
	"github.com/mmcdole/gofeed"
)

// DefaultFeedURL searches Google News for the company.
const DefaultFeedURL = "https://news.google.com/rss/search?q={{urlquery .Company}}&hl=en-US&gl=US&ceid=US:en"

// DefaultFeedScore is the provider score of a feed item that names the company.
const DefaultFeedScore = 0.6

// FeedConfig holds news feed configuration.
type FeedConfig struct {
	URLTemplate    string
	MaxItems       int
	ExtractContent bool // fetch each article and run readability over it
	Workers        int
	Timeout        time.Duration // per-request timeout for feed and article fetches
	Score          float64       // provider score for items naming the company; others get half
}

// FeedFetcher reads an RSS/Atom news feed rendered for the company.
type FeedFetcher struct {
	config     FeedConfig
	tmpl       *template.Template
	parser     *gofeed.Parser
	processor  *processor.Processor
	httpClient *http.Client
	now        func() time.Time
}

// NewFeedFetcher creates a news feed fetcher.
func NewFeedFetcher(config FeedConfig, p *processor.Processor) (*FeedFetcher, error) {
	if config.URLTemplate == "" {
		config.URLTemplate = DefaultFeedURL
	}
	if config.MaxItems <= 0 {
		config.MaxItems = 10
	}
	if config.Workers <= 0 {
		config.Workers = 5
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.Score <= 0 {
		config.Score = DefaultFeedScore
	}

	tmpl, err := template.New("feed").Parse(config.URLTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed url template: %w", err)
	}

	httpClient := &http.Client{Timeout: config.Timeout}
	parser := gofeed.NewParser()
	parser.Client = httpClient

	return &FeedFetcher{
		config:     config,
		tmpl:       tmpl,
		parser:     parser,
		processor:  p,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

// Category returns models.CategoryNews.
func (f *FeedFetcher) Category() models.Category {
	return models.CategoryNews
}

// Fetch parses the feed and turns its newest items into documents.
func (f *FeedFetcher) Fetch(ctx context.Context, q models.ResearchQuery) ([]models.Document, error) {
	var buf bytes.Buffer
	if err := f.tmpl.Execute(&buf, q); err != nil {
		return nil, fmt.Errorf("failed to render feed url: %w", err)
	}
	feedURL := buf.String()

	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}

	count := min(len(feed.Items), f.config.MaxItems)
	docs := make([]models.Document, 0, count)
	retrieved := f.now()

	for _, item := range feed.Items[:count] {
		if item.Link == "" {
			continue
		}

		summary := item.Description
		if summary == "" {
			summary = item.Content
		}
		content, _, err := f.processor.ToMarkdown("text/html", summary)
		if err != nil {
			content = summary
		}

		extra := map[string]any{models.ExtraSource: "feed"}
		if item.PublishedParsed != nil {
			extra[models.ExtraPublishedAt] = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			extra[models.ExtraPublishedAt] = *item.UpdatedParsed
		}

		docs = append(docs, models.Document{
			URL:         item.Link,
			Title:       item.Title,
			Content:     content,
			Category:    models.CategoryNews,
			Query:       feedURL,
			RetrievedAt: retrieved,
			Extra:       extra,
		})
	}

	if f.config.ExtractContent && len(docs) > 0 {
		f.extractAll(ctx, docs)
	}

	for i := range docs {
		score := f.config.Score
		if !mentions(docs[i], q.Company) {
			score /= 2
		}
		docs[i].Extra[models.ExtraProviderScore] = score
	}

	return docs, nil
}

// extractAll replaces feed summaries with the full article text using a
// worker pool. Failures keep the summary.
func (f *FeedFetcher) extractAll(ctx context.Context, docs []models.Document) {
	var wg sync.WaitGroup
	indexes := make(chan int, len(docs))

	for w := 0; w < min(f.config.Workers, len(docs)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				if ctx.Err() != nil {
					continue
				}
				content, err := f.extract(ctx, docs[i].URL)
				if err != nil {
					slog.Debug("article extraction failed", "url", docs[i].URL, "error", err)
					continue
				}
				if len(content) > len(docs[i].Content) {
					docs[i].Content = content
				}
			}
		}()
	}

	for i := range docs {
		indexes <- i
	}
	close(indexes)
	wg.Wait()
}

func (f *FeedFetcher) extract(ctx context.Context, articleURL string) (string, error) {
	parsed, err := url.Parse(articleURL)
	if err != nil {
		return "", fmt.Errorf("invalid article url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch article: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return "", fmt.Errorf("readability extraction failed: %w", err)
	}

	if strings.TrimSpace(article.Content) == "" {
		return strings.TrimSpace(article.TextContent), nil
	}
	md, err := f.processor.Convert(article.Content)
	if err != nil {
		return strings.TrimSpace(article.TextContent), nil
	}
	return md, nil
}

// mentions reports whether the document's title or content names the company,
// either in full or by the leading word of its name ("Acme" for "Acme Robotics").
func mentions(doc models.Document, company string) bool {
	text := strings.ToLower(doc.Title + " " + doc.Content)
	words := strings.Fields(strings.ToLower(company))
	if len(words) == 0 {
		return true
	}
	if strings.Contains(text, strings.Join(words, " ")) {
		return true
	}
	lead := words[0]
	if lead == "the" && len(words) > 1 {
		lead = words[1]
	}
	return len(lead) >= 3 && strings.Contains(text, lead)
}
