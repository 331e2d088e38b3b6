package scraper

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
)

// Config holds scraper configuration.
type Config struct {
	Delay       time.Duration
	MaxDepth    int
	MaxPages    int // 0 means no limit
	FollowLinks bool
	UserAgent   string
	Timeout     time.Duration
}

// Page is one fetched page.
type Page struct {
	URL         string
	Content     string
	ContentType string
	FetchedAt   time.Time
}

// Scraper crawls a company website.
type Scraper struct {
	config Config
}

// New creates a new Scraper with the given configuration.
func New(config Config) *Scraper {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "dossier/1.0"
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 1
	}
	return &Scraper{config: config}
}

// Scrape fetches the given URL and optionally follows same-host links.
// The context can be used to cancel the crawl; pages fetched before
// cancellation are returned together with ctx.Err().
func (s *Scraper) Scrape(ctx context.Context, startURL string) ([]Page, error) {
	var pages []Page
	var mu sync.Mutex
	var cancelled atomic.Bool
	var requested atomic.Int64

	slog.Debug("starting scrape", "url", startURL, "max_depth", s.config.MaxDepth, "max_pages", s.config.MaxPages)

	parsedURL, err := url.Parse(startURL)
	if err != nil {
		slog.Error("failed to parse URL", "url", startURL, "error", err)
		return nil, err
	}

	c := colly.NewCollector(
		colly.MaxDepth(s.config.MaxDepth),
		colly.UserAgent(s.config.UserAgent),
	)

	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Delay:       s.config.Delay,
		Parallelism: 2,
	})

	c.SetRequestTimeout(s.config.Timeout)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			slog.Debug("scrape cancelled", "url", r.URL.String())
			cancelled.Store(true)
			r.Abort()
			return
		}
		if s.config.MaxPages > 0 && requested.Add(1) > int64(s.config.MaxPages) {
			r.Abort()
		}
	})

	c.OnResponse(func(r *colly.Response) {
		if r.StatusCode >= 400 {
			slog.Debug("skipping page with error status", "url", r.Request.URL.String(), "status", r.StatusCode)
			return
		}

		contentType := r.Headers.Get("Content-Type")
		if contentType != "" && !isTextual(contentType) {
			slog.Debug("skipping non-text page", "url", r.Request.URL.String(), "content_type", contentType)
			return
		}

		page := Page{
			URL:         r.Request.URL.String(),
			Content:     string(r.Body),
			ContentType: contentType,
			FetchedAt:   time.Now(),
		}
		slog.Debug("scraped page", "url", page.URL, "content_type", contentType, "size", len(page.Content))

		mu.Lock()
		pages = append(pages, page)
		mu.Unlock()
	})

	if s.config.FollowLinks {
		c.OnHTML("a[href]", func(e *colly.HTMLElement) {
			absoluteURL := e.Request.AbsoluteURL(e.Attr("href"))

			linkURL, err := url.Parse(absoluteURL)
			if err != nil {
				return
			}
			if linkURL.Host == parsedURL.Host {
				e.Request.Visit(absoluteURL)
			}
		})
	}

	if err := c.Visit(startURL); err != nil {
		slog.Debug("visit error", "url", startURL, "error", err)
		return pages, err
	}

	c.Wait()

	if cancelled.Load() {
		slog.Info("scrape cancelled by context", "pages_scraped", len(pages))
		return pages, ctx.Err()
	}

	slog.Debug("scrape complete", "url", startURL, "pages", len(pages))
	return pages, nil
}

func isTextual(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/") ||
		strings.Contains(ct, "html") ||
		strings.Contains(ct, "markdown")
}
