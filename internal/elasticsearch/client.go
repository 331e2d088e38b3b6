package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/mfenderov/dossier/pkg/models"
)

// Config holds Elasticsearch client configuration.
type Config struct {
	Addresses []string
	Index     string
	Username  string
	Password  string
}

// Client wraps the Elasticsearch client with relevance-scoring operations.
// Candidate documents are indexed under a batch id, queried, and deleted.
type Client struct {
	es    *elasticsearch.Client
	index string
}

// New creates a new Elasticsearch client.
func New(config Config) (*Client, error) {
	if config.Index == "" {
		return nil, fmt.Errorf("index is required")
	}

	cfg := elasticsearch.Config{
		Addresses: config.Addresses,
		Username:  config.Username,
		Password:  config.Password,
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create ES client: %w", err)
	}

	return &Client{
		es:    es,
		index: config.Index,
	}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) bool {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return false
	}
	defer res.Body.Close()
	return !res.IsError()
}

// indexMapping defines the ES index mapping for candidate documents.
var indexMapping = `{
	"mappings": {
		"properties": {
			"batch": { "type": "keyword" },
			"id": { "type": "keyword" },
			"url": { "type": "keyword" },
			"category": { "type": "keyword" },
			"title": { "type": "text", "analyzer": "english" },
			"content": { "type": "text", "analyzer": "english" },
			"retrieved_at": { "type": "date" }
		}
	}
}`

// CreateIndex creates the index with proper mapping.
func (c *Client) CreateIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 200 {
		return nil
	}

	res, err = c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader([]byte(indexMapping))),
	)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error creating index: %s", res.String())
	}

	return nil
}

// DeleteIndex removes the index (for testing/cleanup).
func (c *Client) DeleteIndex(ctx context.Context) error {
	res, err := c.es.Indices.Delete([]string{c.index}, c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return nil
}

// indexedDocument is the stored form of a candidate document.
type indexedDocument struct {
	Batch       string `json:"batch"`
	ID          string `json:"id"`
	URL         string `json:"url"`
	Category    string `json:"category"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	RetrievedAt string `json:"retrieved_at,omitempty"`
}

// IndexDocuments bulk-indexes docs under batch and waits until they are
// searchable. Document IDs are prefixed with the batch so concurrent jobs
// never overwrite each other.
func (c *Client) IndexDocuments(ctx context.Context, batch string, docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		meta := map[string]any{"index": map[string]any{"_index": c.index, "_id": batch + ":" + d.ID}}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("failed to marshal bulk metadata: %w", err)
		}
		doc := indexedDocument{
			Batch:    batch,
			ID:       d.ID,
			URL:      d.URL,
			Category: string(d.Category),
			Title:    d.Title,
			Content:  d.Content,
		}
		if !d.RetrievedAt.IsZero() {
			doc.RetrievedAt = d.RetrievedAt.UTC().Format("2006-01-02T15:04:05.000Z")
		}
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to marshal document: %w", err)
		}
	}

	res, err := c.es.Bulk(
		bytes.NewReader(buf.Bytes()),
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithRefresh("wait_for"),
	)
	if err != nil {
		return fmt.Errorf("failed to index documents: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing documents (status %d): %s", res.StatusCode, res.String())
	}

	var br struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if br.Errors {
		return fmt.Errorf("bulk indexing reported item errors")
	}

	return nil
}

// Refresh forces an index refresh (useful for testing).
func (c *Client) Refresh(ctx context.Context) error {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithContext(ctx),
		c.es.Indices.Refresh.WithIndex(c.index),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return nil
}

// searchResponse represents ES search response structure.
type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64         `json:"_score"`
			Source indexedDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Score runs a BM25 query over the documents of one batch and returns the raw
// score per document ID. Documents that do not match are absent.
func (c *Client) Score(ctx context.Context, batch, query string, size int) (map[string]float64, error) {
	searchQuery := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"multi_match": map[string]interface{}{
						"query":  query,
						"fields": []string{"title^2", "content"},
					},
				},
				"filter": map[string]interface{}{
					"term": map[string]interface{}{"batch": batch},
				},
			},
		},
		"size":    size,
		"_source": []string{"id"},
	}

	data, err := json.Marshal(searchQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(data)),
	)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search error: %s", res.String())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	scores := make(map[string]float64, len(sr.Hits.Hits))
	for _, hit := range sr.Hits.Hits {
		scores[hit.Source.ID] = hit.Score
	}
	return scores, nil
}

// DeleteBatch removes every document indexed under batch.
func (c *Client) DeleteBatch(ctx context.Context, batch string) error {
	body, err := json.Marshal(map[string]any{
		"query": map[string]any{"term": map[string]any{"batch": batch}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}

	res, err := c.es.DeleteByQuery(
		[]string{c.index},
		bytes.NewReader(body),
		c.es.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("delete by query failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("delete by query error: %s", res.String())
	}
	return nil
}
