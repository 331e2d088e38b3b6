package fetcher

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mfenderov/dossier/pkg/models"
	"golang.org/x/sync/errgroup"
)

type merged struct {
	category models.Category
	sources  []Fetcher
}

// Merge combines several sources into one fetcher for category. Documents
// are returned in source order. The merged fetcher fails only when every
// source fails.
func Merge(category models.Category, sources ...Fetcher) Fetcher {
	if len(sources) == 1 && sources[0].Category() == category {
		return sources[0]
	}
	return &merged{category: category, sources: sources}
}

func (m *merged) Category() models.Category {
	return m.category
}

func (m *merged) Fetch(ctx context.Context, q models.ResearchQuery) ([]models.Document, error) {
	docs := make([][]models.Document, len(m.sources))
	errs := make([]error, len(m.sources))

	var g errgroup.Group
	for i, src := range m.sources {
		g.Go(func() error {
			docs[i], errs[i] = src.Fetch(ctx, q)
			return nil
		})
	}
	g.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var failed int
	var out []models.Document
	for i := range m.sources {
		if errs[i] != nil {
			failed++
			slog.Warn("source failed", "category", m.category, "error", errs[i])
			continue
		}
		out = append(out, docs[i]...)
	}
	if len(m.sources) > 0 && failed == len(m.sources) {
		return nil, errors.Join(errs...)
	}

	for i := range out {
		out[i].Category = m.category
	}
	return out, nil
}
