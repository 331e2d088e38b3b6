package curator

import (
	"fmt"
	"math"
	"sort"

	"github.com/mfenderov/dossier/internal/collector"
	"github.com/mfenderov/dossier/internal/processor"
	"github.com/mfenderov/dossier/pkg/models"
)

const (
	// DefaultThreshold is the minimum relevance score a document needs to be kept.
	DefaultThreshold = 0.4
	// DefaultCap is the default number of documents kept per category.
	DefaultCap = 30
)

// Options controls filtering and ranking.
type Options struct {
	Threshold float64
	Cap       int // maximum documents per category, 0 means unlimited
}

// DefaultOptions returns the default curation options.
func DefaultOptions() Options {
	return Options{Threshold: DefaultThreshold, Cap: DefaultCap}
}

// ScoreFunc returns the relevance of a document. Results are clamped to [0,1].
type ScoreFunc func(models.Document) float64

// Reasons a document was dropped.
const (
	ReasonInvalidURL     = "invalid_url"
	ReasonBelowThreshold = "below_threshold"
	ReasonOverCap        = "over_cap"
)

// Decision records whether one unique document was kept.
type Decision struct {
	Document models.Document
	Kept     bool
	Reason   string // empty when kept
}

// Stats counts documents through the curation steps for one category.
type Stats struct {
	Collected int `json:"collected"`
	Unique    int `json:"unique"`
	Kept      int `json:"kept"`
}

// Result is the curated, ranked document set per category.
type Result struct {
	Documents map[models.Category][]models.Document
	Decisions []Decision
	Stats     map[models.Category]Stats
}

// Category returns the ranked documents kept for a category.
func (r Result) Category(c models.Category) []models.Document {
	return r.Documents[c]
}

// Categories returns every category seen by the curator in priority order,
// including those that ended up empty.
func (r Result) Categories() []models.Category {
	cats := make([]models.Category, 0, len(r.Stats))
	for c := range r.Stats {
		cats = append(cats, c)
	}
	models.SortCategories(cats)
	return cats
}

// All returns every kept document, grouped by category in priority order.
func (r Result) All() []models.Document {
	var all []models.Document
	for _, c := range r.Categories() {
		all = append(all, r.Documents[c]...)
	}
	return all
}

var normalizer = processor.New()

// Curate canonicalizes, deduplicates, scores, filters and ranks a complete
// collection. It is pure: the same collection and scores always give the same
// result, and curating a result's documents again gives the same documents.
func Curate(coll *collector.Collection, opts Options, score ScoreFunc) (Result, error) {
	if coll == nil || !coll.Complete() {
		return Result{}, fmt.Errorf("%w: curation started before collection completed", models.ErrFatalPipeline)
	}
	if math.IsNaN(opts.Threshold) || opts.Threshold < 0 || opts.Threshold > 1 {
		return Result{}, fmt.Errorf("threshold must be within [0,1], got %v", opts.Threshold)
	}
	if opts.Cap < 0 {
		return Result{}, fmt.Errorf("cap must not be negative, got %d", opts.Cap)
	}
	if score == nil {
		return Result{}, fmt.Errorf("score function is required")
	}

	result := Result{
		Documents: make(map[models.Category][]models.Document),
		Stats:     make(map[models.Category]Stats),
	}

	for _, category := range coll.Categories() {
		collected := coll.Documents(category)
		unique, invalid := dedupe(collected)
		for _, d := range invalid {
			result.Decisions = append(result.Decisions, Decision{Document: d, Reason: ReasonInvalidURL})
		}

		scored := make([]models.Document, len(unique))
		for i, d := range unique {
			scored[i] = d.Scored(clamp(score(d)))
		}
		rank(scored)

		var kept []models.Document
		for _, d := range scored {
			switch {
			case d.ScoreValue() < opts.Threshold:
				result.Decisions = append(result.Decisions, Decision{Document: d, Reason: ReasonBelowThreshold})
			case opts.Cap > 0 && len(kept) >= opts.Cap:
				result.Decisions = append(result.Decisions, Decision{Document: d, Reason: ReasonOverCap})
			default:
				kept = append(kept, d)
				result.Decisions = append(result.Decisions, Decision{Document: d, Kept: true})
			}
		}

		result.Documents[category] = kept
		result.Stats[category] = Stats{
			Collected: len(collected),
			Unique:    len(unique),
			Kept:      len(kept),
		}
	}

	return result, nil
}

type candidate struct {
	doc    models.Document
	length int
}

// dedupe keeps one document per canonical URL, preferring the longest
// normalized content, then the earliest retrieval, then the lowest Seq. The
// survivors come back in order of first appearance with canonical URLs.
// Documents whose URL has no canonical form are returned separately.
func dedupe(docs []models.Document) (unique, invalid []models.Document) {
	best := make(map[string]candidate, len(docs))
	var order []string

	for _, d := range docs {
		key := Canonicalize(d.URL)
		if key == "" {
			invalid = append(invalid, d)
			continue
		}
		d.URL = key
		c := candidate{doc: d, length: len(normalizer.Normalize(d.Content))}

		current, seen := best[key]
		if !seen {
			order = append(order, key)
			best[key] = c
			continue
		}
		if better(c, current) {
			best[key] = c
		}
	}

	unique = make([]models.Document, 0, len(order))
	for _, key := range order {
		unique = append(unique, best[key].doc)
	}
	return unique, invalid
}

func better(a, b candidate) bool {
	if a.length != b.length {
		return a.length > b.length
	}
	if !a.doc.RetrievedAt.Equal(b.doc.RetrievedAt) {
		return a.doc.RetrievedAt.Before(b.doc.RetrievedAt)
	}
	return a.doc.Seq < b.doc.Seq
}

// rank sorts by descending score; ties go to the earliest retrieval, then Seq,
// then URL.
func rank(docs []models.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if a.ScoreValue() != b.ScoreValue() {
			return a.ScoreValue() > b.ScoreValue()
		}
		if !a.RetrievedAt.Equal(b.RetrievedAt) {
			return a.RetrievedAt.Before(b.RetrievedAt)
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.URL < b.URL
	})
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
