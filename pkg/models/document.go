package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Extra keys set by the built-in fetchers.
const (
	ExtraProviderScore = "provider_score" // float64 relevance reported by the search provider
	ExtraPublishedAt   = "published_at"   // time.Time of the source article, when known
	ExtraSource        = "source"         // "search", "site" or "feed"
)

// Document is one candidate piece of content about the researched company.
type Document struct {
	ID          string         `json:"id"`
	URL         string         `json:"url"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	Category    Category       `json:"category"`
	Query       string         `json:"query,omitempty"`           // search query that produced the document
	Score       *float64       `json:"relevance_score,omitempty"` // nil until scored
	RetrievedAt time.Time      `json:"retrieved_at"`
	Seq         int            `json:"seq"`             // arrival order within the category
	Extra       map[string]any `json:"extra,omitempty"` // source-specific side payload
}

// Scored returns a copy of the document carrying the given relevance score.
func (d Document) Scored(score float64) Document {
	d.Score = &score
	return d
}

// ScoreValue returns the relevance score, or 0 when the document is unscored.
func (d Document) ScoreValue() float64 {
	if d.Score == nil {
		return 0
	}
	return *d.Score
}

// ProviderScore returns the score reported by the source, if any.
func (d Document) ProviderScore() (float64, bool) {
	switch v := d.Extra[ExtraProviderScore].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// GenerateDocumentID creates a deterministic ID from a key such as a URL.
// The ID is a SHA-256 hash (first 16 chars) of the key.
func GenerateDocumentID(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])[:16]
}
