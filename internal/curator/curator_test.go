package curator

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/mfenderov/dossier/internal/collector"
	"github.com/mfenderov/dossier/internal/fetcher"
	"github.com/mfenderov/dossier/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func collection(results ...fetcher.Result) *collector.Collection {
	c := collector.NewCollection(len(results))
	for _, r := range results {
		c.Add(r)
	}
	return c
}

// scoresByURL scores documents by their canonical URL.
func scoresByURL(scores map[string]float64) ScoreFunc {
	return func(d models.Document) float64 {
		return scores[d.URL]
	}
}

func urls(docs []models.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.URL
	}
	return out
}

func TestCurate_ThresholdAndRanking(t *testing.T) {
	coll := collection(fetcher.Result{Category: models.CategoryCompany, Documents: []models.Document{
		{URL: "https://a.example", Content: "alpha", RetrievedAt: t0},
		{URL: "https://b.example", Content: "bravo", RetrievedAt: t0},
		{URL: "https://c.example", Content: "charlie", RetrievedAt: t0},
	}})

	result, err := Curate(coll, DefaultOptions(), scoresByURL(map[string]float64{
		"https://a.example": 0.9,
		"https://b.example": 0.3,
		"https://c.example": 0.6,
	}))
	require.NoError(t, err)

	kept := result.Category(models.CategoryCompany)
	assert.Equal(t, []string{"https://a.example", "https://c.example"}, urls(kept))
	assert.Equal(t, 0.9, kept[0].ScoreValue())
	assert.Equal(t, 0.6, kept[1].ScoreValue())

	require.Len(t, result.Decisions, 3)
	dropped := result.Decisions[2]
	assert.False(t, dropped.Kept)
	assert.Equal(t, ReasonBelowThreshold, dropped.Reason)
	assert.Equal(t, 0.3, dropped.Document.ScoreValue())

	assert.Equal(t, Stats{Collected: 3, Unique: 3, Kept: 2}, result.Stats[models.CategoryCompany])
}

func TestCurate_DedupKeepsLongestContent(t *testing.T) {
	coll := collection(fetcher.Result{Category: models.CategoryCompany, Documents: []models.Document{
		{URL: "https://example.com/about?utm_source=newsletter", Content: "Acme builds robots.", RetrievedAt: t0},
		{URL: "https://example.com/about", Content: "Acme builds warehouse robots and sells them worldwide.", RetrievedAt: t0.Add(time.Minute)},
	}})

	result, err := Curate(coll, DefaultOptions(), func(models.Document) float64 { return 0.8 })
	require.NoError(t, err)

	kept := result.Category(models.CategoryCompany)
	require.Len(t, kept, 1)
	assert.Equal(t, "https://example.com/about", kept[0].URL)
	assert.Contains(t, kept[0].Content, "warehouse")
	assert.Len(t, result.Decisions, 1)
}

func TestCurate_DedupComparesNormalizedContent(t *testing.T) {
	coll := collection(fetcher.Result{Category: models.CategoryNews, Documents: []models.Document{
		{URL: "https://news.example/a", Content: "<div><p>  short  </p></div>\n\n\n\n\n\n\n\n", RetrievedAt: t0},
		{URL: "https://news.example/a/", Content: "a longer body", RetrievedAt: t0.Add(time.Hour)},
	}})

	result, err := Curate(coll, Options{}, func(models.Document) float64 { return 1 })
	require.NoError(t, err)
	assert.Equal(t, "a longer body", result.Category(models.CategoryNews)[0].Content)
}

func TestCurate_DedupTieBreaks(t *testing.T) {
	t.Run("earliest retrieval wins", func(t *testing.T) {
		coll := collection(fetcher.Result{Category: models.CategoryNews, Documents: []models.Document{
			{URL: "https://news.example/a", Title: "late", Content: "same", RetrievedAt: t0.Add(time.Second)},
			{URL: "https://news.example/a", Title: "early", Content: "same", RetrievedAt: t0},
		}})
		result, err := Curate(coll, Options{}, func(models.Document) float64 { return 1 })
		require.NoError(t, err)
		assert.Equal(t, "early", result.Category(models.CategoryNews)[0].Title)
	})

	t.Run("lowest seq wins", func(t *testing.T) {
		coll := collection(fetcher.Result{Category: models.CategoryNews, Documents: []models.Document{
			{URL: "https://news.example/a", Title: "first", Content: "same", RetrievedAt: t0},
			{URL: "https://news.example/a", Title: "second", Content: "same", RetrievedAt: t0},
		}})
		result, err := Curate(coll, Options{}, func(models.Document) float64 { return 1 })
		require.NoError(t, err)
		assert.Equal(t, "first", result.Category(models.CategoryNews)[0].Title)
	})
}

func TestCurate_DedupIsPerCategory(t *testing.T) {
	doc := models.Document{URL: "https://acme.example", Content: "Acme", RetrievedAt: t0}
	coll := collection(
		fetcher.Result{Category: models.CategoryCompany, Documents: []models.Document{doc}},
		fetcher.Result{Category: models.CategoryNews, Documents: []models.Document{doc}},
	)

	result, err := Curate(coll, Options{}, func(models.Document) float64 { return 1 })
	require.NoError(t, err)
	assert.Len(t, result.Category(models.CategoryCompany), 1)
	assert.Len(t, result.Category(models.CategoryNews), 1)
}

func TestCurate_RankTieBreak(t *testing.T) {
	coll := collection(fetcher.Result{Category: models.CategoryIndustry, Documents: []models.Document{
		{URL: "https://c.example", RetrievedAt: t0.Add(2 * time.Second)},
		{URL: "https://a.example", RetrievedAt: t0},
		{URL: "https://b.example", RetrievedAt: t0.Add(time.Second)},
	}})

	result, err := Curate(coll, Options{}, func(models.Document) float64 { return 0.5 })
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example", "https://c.example"}, urls(result.Category(models.CategoryIndustry)))
}

func TestCurate_Cap(t *testing.T) {
	coll := collection(fetcher.Result{Category: models.CategoryNews, Documents: []models.Document{
		{URL: "https://a.example", RetrievedAt: t0},
		{URL: "https://b.example", RetrievedAt: t0},
		{URL: "https://c.example", RetrievedAt: t0},
	}})

	result, err := Curate(coll, Options{Threshold: 0.4, Cap: 2}, scoresByURL(map[string]float64{
		"https://a.example": 0.5,
		"https://b.example": 0.7,
		"https://c.example": 0.6,
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"https://b.example", "https://c.example"}, urls(result.Category(models.CategoryNews)))
	assert.Equal(t, ReasonOverCap, result.Decisions[2].Reason)
}

func TestCurate_EmptyCategoryIsNotAnError(t *testing.T) {
	coll := collection(
		fetcher.Result{Category: models.CategoryFinancial, Documents: []models.Document{{URL: "https://a.example", RetrievedAt: t0}}},
		fetcher.Result{Category: models.CategoryNews, Err: errors.New("down")},
	)

	result, err := Curate(coll, DefaultOptions(), func(models.Document) float64 { return 0.1 })
	require.NoError(t, err)
	assert.Empty(t, result.Category(models.CategoryFinancial))
	assert.Empty(t, result.Category(models.CategoryNews))
	assert.Equal(t, []models.Category{models.CategoryFinancial, models.CategoryNews}, result.Categories())
}

func TestCurate_ClampsScores(t *testing.T) {
	coll := collection(fetcher.Result{Category: models.CategoryCompany, Documents: []models.Document{
		{URL: "https://high.example", RetrievedAt: t0},
		{URL: "https://nan.example", RetrievedAt: t0},
		{URL: "https://neg.example", RetrievedAt: t0},
	}})

	result, err := Curate(coll, Options{}, scoresByURL(map[string]float64{
		"https://high.example": 7,
		"https://nan.example":  math.NaN(),
		"https://neg.example":  -2,
	}))
	require.NoError(t, err)

	for _, d := range result.Category(models.CategoryCompany) {
		assert.GreaterOrEqual(t, d.ScoreValue(), 0.0)
		assert.LessOrEqual(t, d.ScoreValue(), 1.0)
	}
	assert.Equal(t, 1.0, result.Category(models.CategoryCompany)[0].ScoreValue())
}

func TestCurate_Deterministic(t *testing.T) {
	build := func() *collector.Collection {
		return collection(
			fetcher.Result{Category: models.CategoryNews, Documents: []models.Document{
				{URL: "https://a.example", Content: "x", RetrievedAt: t0},
				{URL: "https://b.example?utm_medium=x", Content: "yy", RetrievedAt: t0},
				{URL: "http://B.example/", Content: "y", RetrievedAt: t0},
				{URL: "https://c.example", Content: "z", RetrievedAt: t0},
			}},
			fetcher.Result{Category: models.CategoryCompany, Documents: []models.Document{
				{URL: "https://acme.example", Content: "acme", RetrievedAt: t0},
			}},
		)
	}
	score := func(models.Document) float64 { return 0.5 }

	first, err := Curate(build(), DefaultOptions(), score)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Curate(build(), DefaultOptions(), score)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCurate_Idempotent(t *testing.T) {
	coll := collection(fetcher.Result{Category: models.CategoryNews, Documents: []models.Document{
		{URL: "https://a.example/?utm_source=x", Content: "alpha", RetrievedAt: t0},
		{URL: "https://a.example", Content: "alpha longer", RetrievedAt: t0},
		{URL: "https://b.example#top", Content: "bravo", RetrievedAt: t0},
		{URL: "https://c.example", Content: "charlie", RetrievedAt: t0},
	}})
	byID := map[string]float64{}
	for i, d := range coll.Documents(models.CategoryNews) {
		byID[d.ID] = []float64{0.9, 0.9, 0.5, 0.2}[i]
	}
	score := func(d models.Document) float64 { return byID[d.ID] }

	first, err := Curate(coll, DefaultOptions(), score)
	require.NoError(t, err)

	second, err := Curate(collector.FromDocuments(first.All()), DefaultOptions(), score)
	require.NoError(t, err)

	assert.Equal(t, first.All(), second.All())
}

func TestCurate_IncompleteCollectionIsFatal(t *testing.T) {
	coll := collector.NewCollection(2)
	coll.Add(fetcher.Result{Category: models.CategoryNews})

	_, err := Curate(coll, DefaultOptions(), func(models.Document) float64 { return 1 })
	assert.ErrorIs(t, err, models.ErrFatalPipeline)
}

func TestCurate_InvalidOptions(t *testing.T) {
	coll := collection()
	score := func(models.Document) float64 { return 1 }

	for _, opts := range []Options{{Threshold: -0.1}, {Threshold: 1.1}, {Threshold: math.NaN()}, {Cap: -1}} {
		_, err := Curate(coll, opts, score)
		assert.Error(t, err, "options %+v", opts)
	}
	_, err := Curate(coll, DefaultOptions(), nil)
	assert.Error(t, err)
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://Example.com/About/", "https://example.com/about"},
		{"http://example.com/about", "https://example.com/about"},
		{"example.com/about", "https://example.com/about"},
		{"https://example.com:443/about", "https://example.com/about"},
		{"http://example.com:80/", "https://example.com"},
		{"https://example.com:8443/x", "https://example.com:8443/x"},
		{"https://example.com/about?utm_source=x&utm_campaign=y", "https://example.com/about"},
		{"https://example.com/a?b=2&a=1&fbclid=zz", "https://example.com/a?a=1&b=2"},
		{"https://example.com/a#section", "https://example.com/a"},
		{"  ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Canonicalize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Canonicalize(got), "Canonicalize must be idempotent")
		})
	}
}

func TestCurate_RecordsInvalidURLs(t *testing.T) {
	coll := collection(fetcher.Result{Category: models.CategoryNews, Documents: []models.Document{
		{URL: "", Title: "no link", RetrievedAt: t0},
		{URL: "https://a.example", Content: "alpha", RetrievedAt: t0},
		{URL: "   ", Title: "blank link", RetrievedAt: t0},
	}})

	result, err := Curate(coll, DefaultOptions(), func(models.Document) float64 { return 0.9 })
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example"}, urls(result.Category(models.CategoryNews)))
	require.Len(t, result.Decisions, 3)

	var invalid []string
	for _, d := range result.Decisions {
		if d.Reason == ReasonInvalidURL {
			assert.False(t, d.Kept)
			invalid = append(invalid, d.Document.Title)
		}
	}
	assert.Equal(t, []string{"no link", "blank link"}, invalid)
	assert.Equal(t, Stats{Collected: 3, Unique: 1, Kept: 1}, result.Stats[models.CategoryNews])
}

func TestDefaultOptions_CapsEachCategory(t *testing.T) {
	docs := make([]models.Document, DefaultCap+5)
	for i := range docs {
		docs[i] = models.Document{URL: fmt.Sprintf("https://news.example/%d", i), RetrievedAt: t0}
	}
	coll := collection(fetcher.Result{Category: models.CategoryNews, Documents: docs})

	result, err := Curate(coll, DefaultOptions(), func(models.Document) float64 { return 0.8 })
	require.NoError(t, err)
	assert.Len(t, result.Category(models.CategoryNews), DefaultCap)
}
