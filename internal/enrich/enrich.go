// Package enrich looks up company facts that are not part of any briefing,
// such as the approximate employee count.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mfenderov/dossier/internal/retry"
	"github.com/mfenderov/dossier/pkg/models"
)

// MaxEmployeeCount bounds plausible employee counts.
const MaxEmployeeCount = 10_000_000

var (
	ErrNoCount    = errors.New("no employee count in answer")
	ErrOutOfRange = errors.New("employee count out of range")
)

// Generator produces text from a prompt, e.g. an LLM client.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config controls enrichment lookups.
type Config struct {
	Retries int           // retries after the first attempt
	Backoff time.Duration // delay before the first retry
	Timeout time.Duration // per generator call
}

// Enricher asks a generator for company facts.
type Enricher struct {
	generator Generator
	config    Config
}

// New creates an enricher over generator.
func New(generator Generator, config Config) *Enricher {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Retries < 0 {
		config.Retries = 0
	}
	return &Enricher{generator: generator, config: config}
}

// EmployeeCount returns the most recent employee count the generator knows
// for the company. Unparseable or implausible answers are retried and then
// reported as an error; the caller treats the count as unknown.
func (e *Enricher) EmployeeCount(ctx context.Context, q models.ResearchQuery) (int, error) {
	prompt := employeePrompt(q)
	policy := retry.Policy{
		MaxAttempts: e.config.Retries + 1,
		BaseDelay:   e.config.Backoff,
	}

	n, err := retry.Value(ctx, policy, func(ctx context.Context) (int, error) {
		cctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()

		out, err := e.generator.Complete(cctx, prompt)
		if err != nil {
			return 0, err
		}
		return ParseEmployeeCount(out)
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("failed to get employee count for %s: %w", q.Company, err)
	}

	slog.Debug("employee count found", "company", q.Company, "employees", n)
	return n, nil
}

func employeePrompt(q models.ResearchQuery) string {
	var sb strings.Builder
	sb.WriteString("You are a business data analyst. Give the most recent employee count for a company.\n")
	sb.WriteString("Respond with only the number. If you are unsure, give your best estimate from the company's size and industry. ")
	sb.WriteString("If you know the year, append it in parentheses.\n\n")
	sb.WriteString("Q: What is the most recent employee count for 'Tesla'?\nA: 140473 (2023)\n\n")
	sb.WriteString("Q: What is the most recent employee count for 'Acme Widgets'?\nA: 150\n\n")
	fmt.Fprintf(&sb, "Q: What is the most recent employee count for '%s'", q.Company)
	if q.Industry != "" {
		fmt.Fprintf(&sb, " in the %s industry", q.Industry)
	}
	sb.WriteString("?\nA:")
	return sb.String()
}

var countPattern = regexp.MustCompile(`(?i)(\d[\d,]*(?:\.\d+)?)\s*(k|m|thousand|million)?\b`)

// ParseEmployeeCount extracts the first number from a generator answer.
// Thousands separators and k/M suffixes are understood, so "1,200",
// "1.2k" and "1200 (2023)" all yield 1200. The result must lie in
// [1, MaxEmployeeCount].
func ParseEmployeeCount(answer string) (int, error) {
	m := countPattern.FindStringSubmatch(answer)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrNoCount, answer)
	}

	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNoCount, answer)
	}
	switch strings.ToLower(m[2]) {
	case "k", "thousand":
		v *= 1_000
	case "m", "million":
		v *= 1_000_000
	}

	if v < 1 || v > MaxEmployeeCount {
		return 0, fmt.Errorf("%w: %.0f", ErrOutOfRange, v)
	}
	return int(math.Round(v)), nil
}
