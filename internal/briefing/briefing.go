package briefing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/mfenderov/dossier/internal/processor"
	"github.com/mfenderov/dossier/internal/retry"
	"github.com/mfenderov/dossier/pkg/models"
)

// Generator produces text from a prompt, e.g. an LLM client.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config controls synthesis.
type Config struct {
	Retries          int           // retries after the first attempt
	Backoff          time.Duration // delay before the first retry
	MaxBackoff       time.Duration
	Timeout          time.Duration // per generator call
	MaxDocuments     int           // documents included in a prompt
	MaxDocumentChars int           // content chars per document in a prompt
}

// DefaultConfig returns the default synthesis configuration.
func DefaultConfig() Config {
	return Config{
		Retries:          1,
		Backoff:          500 * time.Millisecond,
		MaxBackoff:       5 * time.Second,
		Timeout:          60 * time.Second,
		MaxDocuments:     8,
		MaxDocumentChars: 3000,
	}
}

// Synthesizer writes one briefing per category. It holds no per-category
// state, so categories may be synthesized concurrently.
type Synthesizer struct {
	generator Generator
	config    Config
	processor *processor.Processor
}

// New creates a synthesizer. A nil generator produces extractive digests.
func New(generator Generator, config Config) *Synthesizer {
	d := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = d.Timeout
	}
	if config.MaxDocuments <= 0 {
		config.MaxDocuments = d.MaxDocuments
	}
	if config.MaxDocumentChars <= 0 {
		config.MaxDocumentChars = d.MaxDocumentChars
	}
	if config.Retries < 0 {
		config.Retries = 0
	}
	return &Synthesizer{generator: generator, config: config, processor: processor.New()}
}

// Synthesize summarizes the curated documents of one category.
//
// An empty document list yields an empty briefing without calling the
// generator. A generator that keeps failing yields an unavailable briefing
// and an error wrapping models.ErrSynthesisFailure. Cancellation of ctx
// returns an error wrapping models.ErrJobCancelled.
func (s *Synthesizer) Synthesize(ctx context.Context, q models.ResearchQuery, category models.Category, docs []models.Document) (models.Briefing, error) {
	b := models.Briefing{Category: category}

	if len(docs) == 0 {
		b.Status = models.BriefingEmpty
		b.Reason = "no relevant documents found"
		return b, nil
	}
	if len(docs) > s.config.MaxDocuments {
		docs = docs[:s.config.MaxDocuments]
	}
	b.Sources = docs

	if s.generator == nil {
		b.Status = models.BriefingOK
		b.Text = s.digest(docs)
		return b, nil
	}

	prompt := s.prompt(q, category, docs)
	policy := retry.Policy{
		MaxAttempts: s.config.Retries + 1,
		BaseDelay:   s.config.Backoff,
		MaxDelay:    s.config.MaxBackoff,
	}

	text, err := retry.Value(ctx, policy, func(ctx context.Context) (string, error) {
		cctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()

		out, err := s.generator.Complete(cctx, prompt)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(out) == "" {
			return "", errors.New("generator returned no text")
		}
		return strings.TrimSpace(out), nil
	})

	if err != nil {
		if ctx.Err() != nil {
			return b, fmt.Errorf("%w: %w", models.ErrJobCancelled, ctx.Err())
		}
		slog.Warn("briefing synthesis failed", "category", category, "error", err)
		b.Status = models.BriefingUnavailable
		b.Reason = "briefing generation failed"
		return b, fmt.Errorf("%w: %s: %w", models.ErrSynthesisFailure, category, err)
	}

	b.Status = models.BriefingOK
	b.Text = text
	return b, nil
}

// Per-category focus for the generator.
var focus = map[models.Category]string{
	models.CategoryCompany:   "core products and services, leadership, target market, business model and key differentiators",
	models.CategoryIndustry:  "market position, main competitors, industry trends, challenges and market size",
	models.CategoryFinancial: "funding rounds and investors, revenue, valuation and profitability",
	models.CategoryNews:      "the most recent announcements, partnerships, launches and leadership changes, newest first",
}

func (s *Synthesizer) prompt(q models.ResearchQuery, category models.Category, docs []models.Document) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are writing the %s section of a research report on %s", strings.ToLower(category.Title()), q.Company)
	if q.Industry != "" {
		fmt.Fprintf(&sb, ", a company in the %s industry", q.Industry)
	}
	if q.HQLocation != "" {
		fmt.Fprintf(&sb, " headquartered in %s", q.HQLocation)
	}
	sb.WriteString(".\n\n")

	if f, ok := focus[category]; ok {
		fmt.Fprintf(&sb, "Focus on %s.\n", f)
	}
	sb.WriteString("Use only facts stated in the documents below. Write concise markdown bullet points, ")
	sb.WriteString("cite sources with their number in brackets like [2], and do not add a heading or preamble.\n\n")

	for i, d := range docs {
		content := s.processor.Normalize(d.Content)
		if len(content) > s.config.MaxDocumentChars {
			content = content[:s.config.MaxDocumentChars]
		}
		fmt.Fprintf(&sb, "[%d] %s\nURL: %s\n%s\n\n", i+1, d.Title, d.URL, content)
	}

	return sb.String()
}

var sentenceEnd = regexp.MustCompile(`[.!?](\s+|$)`)

// digest builds a deterministic extractive briefing: the leading sentences of
// each document with a citation.
func (s *Synthesizer) digest(docs []models.Document) string {
	var lines []string
	for i, d := range docs {
		text := firstSentences(s.processor.Normalize(d.Content), 2, 400)
		if text == "" {
			text = d.Title
		}
		if text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s [%d]", text, i+1))
	}
	return strings.Join(lines, "\n")
}

func firstSentences(text string, n, limit int) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	end := len(text)
	if locs := sentenceEnd.FindAllStringIndex(text, n); len(locs) > 0 {
		end = locs[len(locs)-1][0] + 1
	}
	out := strings.TrimSpace(text[:end])
	if len(out) > limit {
		cut := strings.LastIndex(out[:limit], " ")
		if cut <= 0 {
			cut = limit
		}
		out = strings.TrimSpace(out[:cut]) + "..."
	}
	return out
}
