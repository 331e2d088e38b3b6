package scoring

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mfenderov/dossier/internal/embeddings"
	"github.com/mfenderov/dossier/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Scorer assigns relevance scores in [0,1] to documents, keyed by document ID.
// Documents missing from the result are treated as score 0.
type Scorer interface {
	Score(ctx context.Context, q models.ResearchQuery, docs []models.Document) (map[string]float64, error)
}

// Provider uses the relevance reported by the source itself.
type Provider struct {
	Default float64 // score for documents the source did not rate
}

// Score returns each document's provider score.
func (p Provider) Score(_ context.Context, _ models.ResearchQuery, docs []models.Document) (map[string]float64, error) {
	scores := make(map[string]float64, len(docs))
	for _, d := range docs {
		if s, ok := d.ProviderScore(); ok {
			scores[d.ID] = s
		} else {
			scores[d.ID] = p.Default
		}
	}
	return scores, nil
}

// Index is the part of the Elasticsearch client the BM25 scorer needs.
type Index interface {
	IndexDocuments(ctx context.Context, batch string, docs []models.Document) error
	Score(ctx context.Context, batch, query string, size int) (map[string]float64, error)
	DeleteBatch(ctx context.Context, batch string) error
}

// BM25 scores documents by indexing them into Elasticsearch and querying with
// the research query. Raw scores are divided by the best score.
type BM25 struct {
	index Index
}

// NewBM25 creates an Elasticsearch-backed scorer.
func NewBM25(index Index) *BM25 {
	return &BM25{index: index}
}

// Score indexes docs under a fresh batch, queries, and removes the batch.
func (b *BM25) Score(ctx context.Context, q models.ResearchQuery, docs []models.Document) (map[string]float64, error) {
	if len(docs) == 0 {
		return map[string]float64{}, nil
	}

	batch := uuid.NewString()
	if err := b.index.IndexDocuments(ctx, batch, docs); err != nil {
		return nil, fmt.Errorf("failed to index candidates: %w", err)
	}
	defer func() {
		if err := b.index.DeleteBatch(context.WithoutCancel(ctx), batch); err != nil {
			slog.Warn("failed to delete scoring batch", "batch", batch, "error", err)
		}
	}()

	raw, err := b.index.Score(ctx, batch, q.Text(), len(docs))
	if err != nil {
		return nil, fmt.Errorf("failed to score candidates: %w", err)
	}

	var best float64
	for _, s := range raw {
		best = max(best, s)
	}

	scores := make(map[string]float64, len(docs))
	for _, d := range docs {
		if best > 0 {
			scores[d.ID] = raw[d.ID] / best
		} else {
			scores[d.ID] = 0
		}
	}
	return scores, nil
}

// Embedder produces embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Semantic scores documents by cosine similarity between the query and
// document embeddings.
type Semantic struct {
	embedder    Embedder
	concurrency int
}

// NewSemantic creates an embeddings-backed scorer.
func NewSemantic(embedder Embedder, concurrency int) *Semantic {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Semantic{embedder: embedder, concurrency: concurrency}
}

// Score embeds the query once and every document, clamping similarity at 0.
func (s *Semantic) Score(ctx context.Context, q models.ResearchQuery, docs []models.Document) (map[string]float64, error) {
	queryVec, err := s.embedder.Embed(ctx, q.Text())
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	sims := make([]float64, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, d := range docs {
		g.Go(func() error {
			vec, err := s.embedder.Embed(gctx, d.Title+"\n\n"+d.Content)
			if err != nil {
				return fmt.Errorf("failed to embed document %s: %w", d.ID, err)
			}
			sims[i] = max(0, embeddings.Cosine(queryVec, vec))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scores := make(map[string]float64, len(docs))
	for i, d := range docs {
		scores[d.ID] = sims[i]
	}
	return scores, nil
}

type fallback struct {
	primary   Scorer
	secondary Scorer
}

// Fallback returns a scorer that uses secondary whenever primary fails.
func Fallback(primary, secondary Scorer) Scorer {
	return fallback{primary: primary, secondary: secondary}
}

func (f fallback) Score(ctx context.Context, q models.ResearchQuery, docs []models.Document) (map[string]float64, error) {
	scores, err := f.primary.Score(ctx, q, docs)
	if err == nil {
		return scores, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	slog.Warn("primary scorer failed, falling back", "error", err)
	return f.secondary.Score(ctx, q, docs)
}
