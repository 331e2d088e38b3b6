package collector

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mfenderov/dossier/internal/events"
	"github.com/mfenderov/dossier/internal/fetcher"
	"github.com/mfenderov/dossier/pkg/models"
)

// Collection is the merged working set produced by all fetchers of a job.
type Collection struct {
	expected int
	reported int
	docs     map[models.Category][]models.Document
	failures map[models.Category]error
}

// NewCollection creates an empty collection expecting the given number of
// fetcher results.
func NewCollection(expected int) *Collection {
	return &Collection{
		expected: expected,
		docs:     make(map[models.Category][]models.Document),
		failures: make(map[models.Category]error),
	}
}

// FromDocuments builds a complete collection from documents that were
// already collected, keeping their IDs and sequence numbers.
func FromDocuments(docs []models.Document) *Collection {
	c := NewCollection(0)
	for _, d := range docs {
		c.docs[d.Category] = append(c.docs[d.Category], d)
	}
	return c
}

// Add merges one fetcher result, assigning each document its per-category
// sequence number and ID.
func (c *Collection) Add(r fetcher.Result) {
	c.reported++
	if _, ok := c.docs[r.Category]; !ok {
		c.docs[r.Category] = nil
	}
	if r.Err != nil {
		c.failures[r.Category] = r.Err
		return
	}

	for _, d := range r.Documents {
		d.Category = r.Category
		d.Seq = len(c.docs[r.Category])
		d.ID = models.GenerateDocumentID(string(r.Category) + "|" + strconv.Itoa(d.Seq) + "|" + d.URL)
		c.docs[r.Category] = append(c.docs[r.Category], d)
	}
}

// Complete reports whether every expected fetcher has reported.
func (c *Collection) Complete() bool {
	return c.reported >= c.expected
}

// Documents returns the documents collected for a category in arrival order.
func (c *Collection) Documents(category models.Category) []models.Document {
	return c.docs[category]
}

// Failure returns the error of a category whose fetcher failed.
func (c *Collection) Failure(category models.Category) error {
	return c.failures[category]
}

// Categories returns every category that reported, known categories first in
// priority order, then any others by name.
func (c *Collection) Categories() []models.Category {
	cats := make([]models.Category, 0, len(c.docs))
	for cat := range c.docs {
		cats = append(cats, cat)
	}
	models.SortCategories(cats)
	return cats
}

// All returns every document, grouped by category in priority order.
func (c *Collection) All() []models.Document {
	var all []models.Document
	for _, cat := range c.Categories() {
		all = append(all, c.docs[cat]...)
	}
	return all
}

// Len returns the total number of collected documents.
func (c *Collection) Len() int {
	var n int
	for _, docs := range c.docs {
		n += len(docs)
	}
	return n
}

// Collect drains fetcher results as they arrive, emitting one event per
// category and a final completion event once the channel is closed.
// Cancellation of ctx returns the partial collection with an error wrapping
// models.ErrJobCancelled.
func Collect(ctx context.Context, results <-chan fetcher.Result, expected int, emit events.Emitter) (*Collection, error) {
	coll := NewCollection(expected)

	for {
		select {
		case <-ctx.Done():
			return coll, fmt.Errorf("%w: %w", models.ErrJobCancelled, ctx.Err())

		case r, ok := <-results:
			if !ok {
				if !coll.Complete() {
					return coll, fmt.Errorf("%w: %d of %d fetchers reported", models.ErrFatalPipeline, coll.reported, expected)
				}
				slog.Info("collection complete", "documents", coll.Len(), "fetchers", expected)
				emit.Emit(models.StageCollect, models.StatusCollecting, "collection complete", map[string]any{
					"complete":  true,
					"documents": coll.Len(),
					"failed":    len(coll.failures),
				})
				return coll, nil
			}
			if r.Err != nil && ctx.Err() != nil {
				return coll, fmt.Errorf("%w: %w", models.ErrJobCancelled, ctx.Err())
			}

			coll.Add(r)

			payload := map[string]any{
				"category":    string(r.Category),
				"documents":   len(r.Documents),
				"duration_ms": r.Duration.Milliseconds(),
			}
			message := fmt.Sprintf("collected %d %s documents", len(r.Documents), r.Category)
			if r.Err != nil {
				payload["degraded"] = true
				payload["timed_out"] = r.TimedOut
				payload["error"] = r.Err.Error()
				message = fmt.Sprintf("%s source unavailable", r.Category)
			}
			emit.Emit(models.StageCollect, models.StatusCollecting, message, payload)
		}
	}
}
