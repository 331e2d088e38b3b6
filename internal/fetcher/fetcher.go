package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mfenderov/dossier/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Fetcher retrieves candidate documents for one category.
type Fetcher interface {
	Category() models.Category
	Fetch(ctx context.Context, q models.ResearchQuery) ([]models.Document, error)
}

type funcFetcher struct {
	category models.Category
	fn       func(ctx context.Context, q models.ResearchQuery) ([]models.Document, error)
}

func (f funcFetcher) Category() models.Category { return f.category }

func (f funcFetcher) Fetch(ctx context.Context, q models.ResearchQuery) ([]models.Document, error) {
	return f.fn(ctx, q)
}

// FetcherFunc adapts a function to a Fetcher for category.
func FetcherFunc(category models.Category, fn func(ctx context.Context, q models.ResearchQuery) ([]models.Document, error)) Fetcher {
	return funcFetcher{category: category, fn: fn}
}

// ErrNotConfigured marks a category that has no source behind it.
var ErrNotConfigured = errors.New("no source configured")

// Unconfigured returns a fetcher that reports category as unavailable on every
// run, so that the category still gets its section in the report.
func Unconfigured(category models.Category) Fetcher {
	return FetcherFunc(category, func(context.Context, models.ResearchQuery) ([]models.Document, error) {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrSourceUnavailable, category, ErrNotConfigured)
	})
}

// Result is the outcome of one fetcher. Err is nil on success and wraps
// models.ErrSourceUnavailable on failure; Documents is empty whenever Err is set.
type Result struct {
	Category  models.Category
	Documents []models.Document
	Err       error
	TimedOut  bool
	Duration  time.Duration
}

// Run starts every fetcher concurrently, each bounded by timeout, and returns
// a channel that yields one Result per fetcher in completion order. The
// channel is closed once all fetchers have resolved. Failures never cross
// the join: they come back as Results.
func Run(ctx context.Context, fetchers []Fetcher, q models.ResearchQuery, timeout time.Duration) <-chan Result {
	out := make(chan Result, len(fetchers))

	var g errgroup.Group
	for _, f := range fetchers {
		g.Go(func() error {
			out <- fetchOne(ctx, f, q, timeout)
			return nil
		})
	}

	go func() {
		g.Wait()
		close(out)
	}()

	return out
}

type outcome struct {
	docs []models.Document
	err  error
}

func fetchOne(ctx context.Context, f Fetcher, q models.ResearchQuery, timeout time.Duration) Result {
	category := f.Category()
	start := time.Now()

	fctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("fetcher panicked: %v", r)}
			}
		}()
		docs, err := f.Fetch(fctx, q)
		done <- outcome{docs: docs, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-fctx.Done():
		o = outcome{err: fctx.Err()}
	}

	result := Result{Category: category, Duration: time.Since(start)}

	if o.err == nil {
		result.Documents = o.docs
		for i := range result.Documents {
			result.Documents[i].Category = category
		}
		slog.Debug("fetcher complete", "category", category, "documents", len(o.docs), "duration", result.Duration)
		return result
	}

	switch {
	case ctx.Err() != nil:
		// The whole job was cancelled; not a source problem.
		result.Err = ctx.Err()
	case errors.Is(fctx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		result.Err = fmt.Errorf("%w: %s timed out after %s", models.ErrSourceUnavailable, category, timeout)
	case errors.Is(o.err, models.ErrSourceUnavailable):
		result.Err = o.err
	default:
		result.Err = fmt.Errorf("%w: %s: %w", models.ErrSourceUnavailable, category, o.err)
	}

	level := slog.LevelWarn
	if errors.Is(result.Err, ErrNotConfigured) {
		level = slog.LevelDebug
	}
	slog.Log(ctx, level, "fetcher failed", "category", category, "timed_out", result.TimedOut, "error", result.Err)
	return result
}
