package scoring

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mfenderov/dossier/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var query = models.ResearchQuery{Company: "Acme", Industry: "robotics"}

func TestProvider(t *testing.T) {
	docs := []models.Document{
		{ID: "a", Extra: map[string]any{models.ExtraProviderScore: 0.8}},
		{ID: "b"},
	}

	scores, err := Provider{Default: 0.5}.Score(t.Context(), query, docs)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 0.8, "b": 0.5}, scores)
}

type fakeIndex struct {
	mu      sync.Mutex
	batches map[string][]models.Document
	raw     map[string]float64
	deleted []string
	failOn  string
}

func (f *fakeIndex) IndexDocuments(_ context.Context, batch string, docs []models.Document) error {
	if f.failOn == "index" {
		return errors.New("index failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batches == nil {
		f.batches = map[string][]models.Document{}
	}
	f.batches[batch] = docs
	return nil
}

func (f *fakeIndex) Score(_ context.Context, batch, q string, size int) (map[string]float64, error) {
	if f.failOn == "score" {
		return nil, errors.New("score failed")
	}
	return f.raw, nil
}

func (f *fakeIndex) DeleteBatch(_ context.Context, batch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, batch)
	return nil
}

func TestBM25_NormalizesByMax(t *testing.T) {
	idx := &fakeIndex{raw: map[string]float64{"a": 8, "b": 2}}
	docs := []models.Document{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	scores, err := NewBM25(idx).Score(t.Context(), query, docs)
	require.NoError(t, err)

	assert.Equal(t, 1.0, scores["a"])
	assert.Equal(t, 0.25, scores["b"])
	assert.Equal(t, 0.0, scores["c"])
	require.Len(t, idx.deleted, 1, "batch should be deleted after scoring")
	_, indexed := idx.batches[idx.deleted[0]]
	assert.True(t, indexed)
}

func TestBM25_NoMatches(t *testing.T) {
	scores, err := NewBM25(&fakeIndex{raw: map[string]float64{}}).Score(t.Context(), query, []models.Document{{ID: "a"}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, scores["a"])
}

func TestBM25_Errors(t *testing.T) {
	for _, stage := range []string{"index", "score"} {
		t.Run(stage, func(t *testing.T) {
			_, err := NewBM25(&fakeIndex{failOn: stage}).Score(t.Context(), query, []models.Document{{ID: "a"}})
			assert.Error(t, err)
		})
	}
}

type fakeEmbedder struct {
	fail bool
}

func (f fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedder down")
	}
	if strings.Contains(strings.ToLower(text), "acme") {
		return []float32{1, 0}, nil
	}
	if strings.Contains(text, "opposite") {
		return []float32{-1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func TestSemantic(t *testing.T) {
	docs := []models.Document{
		{ID: "match", Title: "Acme Robotics"},
		{ID: "unrelated", Title: "Tomatoes"},
		{ID: "negative", Title: "opposite"},
	}

	scores, err := NewSemantic(fakeEmbedder{}, 2).Score(t.Context(), query, docs)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, scores["match"], 1e-9)
	assert.InDelta(t, 0.0, scores["unrelated"], 1e-9)
	assert.Equal(t, 0.0, scores["negative"])
}

func TestSemantic_Error(t *testing.T) {
	_, err := NewSemantic(fakeEmbedder{fail: true}, 1).Score(t.Context(), query, []models.Document{{ID: "a"}})
	assert.Error(t, err)
}

type failingScorer struct{}

func (failingScorer) Score(context.Context, models.ResearchQuery, []models.Document) (map[string]float64, error) {
	return nil, errors.New("unavailable")
}

func TestFallback(t *testing.T) {
	docs := []models.Document{{ID: "a", Extra: map[string]any{models.ExtraProviderScore: 0.9}}}

	scores, err := Fallback(failingScorer{}, Provider{}).Score(t.Context(), query, docs)
	require.NoError(t, err)
	assert.Equal(t, 0.9, scores["a"])

	scores, err = Fallback(Provider{Default: 0.1}, failingScorer{}).Score(t.Context(), query, []models.Document{{ID: "b"}})
	require.NoError(t, err)
	assert.Equal(t, 0.1, scores["b"])
}

func TestFallback_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := Fallback(failingScorer{}, Provider{}).Score(ctx, query, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
