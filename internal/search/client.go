package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds search provider configuration.
type Config struct {
	Endpoint   string // e.g. "https://api.tavily.com/search"
	APIKey     string
	Depth      string // "basic" or "advanced"
	MaxResults int
	Timeout    time.Duration
}

// Result is one hit returned by the provider.
type Result struct {
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Content    string  `json:"content"`
	RawContent string  `json:"raw_content,omitempty"`
	Score      float64 `json:"score"`
}

// Client calls a Tavily-compatible web search API.
type Client struct {
	httpClient *http.Client
	config     Config
}

// New creates a new search client.
func New(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if config.MaxResults <= 0 {
		config.MaxResults = 5
	}
	if config.Depth == "" {
		config.Depth = "basic"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
	}, nil
}

type searchRequest struct {
	APIKey            string `json:"api_key"`
	Query             string `json:"query"`
	SearchDepth       string `json:"search_depth"`
	MaxResults        int    `json:"max_results"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type searchResponse struct {
	Results []Result `json:"results"`
	Detail  *struct {
		Error string `json:"error"`
	} `json:"detail,omitempty"`
}

// Search runs one query against the provider.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	body, err := json.Marshal(searchRequest{
		APIKey:            c.config.APIKey,
		Query:             query,
		SearchDepth:       c.config.Depth,
		MaxResults:        c.config.MaxResults,
		IncludeRawContent: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var sr searchResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if sr.Detail != nil && sr.Detail.Error != "" {
		return nil, fmt.Errorf("API error: %s", sr.Detail.Error)
	}

	results := sr.Results[:0]
	for _, r := range sr.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, r)
	}
	return results, nil
}
