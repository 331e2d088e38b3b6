package briefing

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mfenderov/dossier/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedGenerator struct {
	calls   atomic.Int32
	outputs []string
	errs    []error
	prompts []string
	block   bool
}

func (g *scriptedGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	i := int(g.calls.Add(1)) - 1
	g.prompts = append(g.prompts, prompt)
	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	var out string
	var err error
	if i < len(g.outputs) {
		out = g.outputs[i]
	}
	if i < len(g.errs) {
		err = g.errs[i]
	}
	return out, err
}

var (
	acme = models.ResearchQuery{Company: "Acme Robotics", Industry: "robotics", HQLocation: "Berlin"}
	docs = []models.Document{
		{ID: "1", URL: "https://acme.example/about", Title: "About Acme", Content: "Acme Robotics builds warehouse robots. It was founded in 2015. It has 200 employees."},
		{ID: "2", URL: "https://news.example/acme", Title: "Acme raises", Content: "<p>Acme raised $40M in a Series B round.</p>"},
	}
	fast = Config{Retries: 1, Backoff: time.Millisecond, Timeout: time.Second}
)

func TestSynthesize_Success(t *testing.T) {
	gen := &scriptedGenerator{outputs: []string{"  - Acme builds warehouse robots [1]  "}}

	b, err := New(gen, fast).Synthesize(t.Context(), acme, models.CategoryCompany, docs)
	require.NoError(t, err)

	assert.Equal(t, models.BriefingOK, b.Status)
	assert.Equal(t, "- Acme builds warehouse robots [1]", b.Text)
	assert.Len(t, b.Sources, 2)
	assert.EqualValues(t, 1, gen.calls.Load())

	prompt := gen.prompts[0]
	assert.Contains(t, prompt, "company overview section of a research report on Acme Robotics")
	assert.Contains(t, prompt, "robotics industry")
	assert.Contains(t, prompt, "Berlin")
	assert.Contains(t, prompt, "[2] Acme raises")
	assert.NotContains(t, prompt, "<p>", "prompt content should be normalized")
}

func TestSynthesize_RetriesOnceThenSucceeds(t *testing.T) {
	gen := &scriptedGenerator{
		outputs: []string{"", "- recovered"},
		errs:    []error{errors.New("model overloaded"), nil},
	}

	b, err := New(gen, fast).Synthesize(t.Context(), acme, models.CategoryFinancial, docs)
	require.NoError(t, err)
	assert.Equal(t, models.BriefingOK, b.Status)
	assert.Equal(t, "- recovered", b.Text)
	assert.EqualValues(t, 2, gen.calls.Load())
}

func TestSynthesize_UnavailableAfterRetries(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{errors.New("down"), errors.New("still down"), errors.New("never reached")}}

	b, err := New(gen, fast).Synthesize(t.Context(), acme, models.CategoryIndustry, docs)
	assert.ErrorIs(t, err, models.ErrSynthesisFailure)
	assert.Equal(t, models.BriefingUnavailable, b.Status)
	assert.NotEmpty(t, b.Reason)
	assert.Empty(t, b.Text)
	assert.EqualValues(t, 2, gen.calls.Load(), "one retry after the first failure")
}

func TestSynthesize_BlankOutputIsAFailure(t *testing.T) {
	gen := &scriptedGenerator{outputs: []string{"   ", "\n"}}

	b, err := New(gen, fast).Synthesize(t.Context(), acme, models.CategoryNews, docs)
	assert.ErrorIs(t, err, models.ErrSynthesisFailure)
	assert.Equal(t, models.BriefingUnavailable, b.Status)
}

func TestSynthesize_PerCallTimeout(t *testing.T) {
	gen := &scriptedGenerator{block: true}
	cfg := Config{Retries: 1, Backoff: time.Millisecond, Timeout: 20 * time.Millisecond}

	start := time.Now()
	b, err := New(gen, cfg).Synthesize(t.Context(), acme, models.CategoryNews, docs)
	assert.ErrorIs(t, err, models.ErrSynthesisFailure)
	assert.Equal(t, models.BriefingUnavailable, b.Status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSynthesize_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	gen := &scriptedGenerator{block: true}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := New(gen, Config{Timeout: time.Minute}).Synthesize(ctx, acme, models.CategoryNews, docs)
	assert.ErrorIs(t, err, models.ErrJobCancelled)
	assert.NotErrorIs(t, err, models.ErrSynthesisFailure)
}

func TestSynthesize_EmptyCategorySkipsGenerator(t *testing.T) {
	gen := &scriptedGenerator{}

	b, err := New(gen, fast).Synthesize(t.Context(), acme, models.CategoryFinancial, nil)
	require.NoError(t, err)
	assert.Equal(t, models.BriefingEmpty, b.Status)
	assert.Zero(t, gen.calls.Load())
}

func TestSynthesize_MaxDocuments(t *testing.T) {
	gen := &scriptedGenerator{outputs: []string{"ok"}}

	b, err := New(gen, Config{MaxDocuments: 1, Timeout: time.Second}).Synthesize(t.Context(), acme, models.CategoryCompany, docs)
	require.NoError(t, err)
	assert.Len(t, b.Sources, 1)
	assert.NotContains(t, gen.prompts[0], "[2]")
}

func TestSynthesize_ExtractiveDigest(t *testing.T) {
	b, err := New(nil, Config{}).Synthesize(t.Context(), acme, models.CategoryCompany, docs)
	require.NoError(t, err)

	assert.Equal(t, models.BriefingOK, b.Status)
	lines := strings.Split(b.Text, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "- Acme Robotics builds warehouse robots. It was founded in 2015. [1]", lines[0])
	assert.Equal(t, "- Acme raised $40M in a Series B round. [2]", lines[1])

	again, _ := New(nil, Config{}).Synthesize(t.Context(), acme, models.CategoryCompany, docs)
	assert.Equal(t, b.Text, again.Text, "digest must be deterministic")
}

func TestFirstSentences(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		n     int
		limit int
		want  string
	}{
		{"two of three", "One. Two! Three?", 2, 100, "One. Two!"},
		{"no terminator", "just a fragment", 2, 100, "just a fragment"},
		{"empty", "  ", 2, 100, ""},
		{"truncated", "alpha beta gamma delta.", 1, 12, "alpha beta..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, firstSentences(tt.text, tt.n, tt.limit))
		})
	}
}
