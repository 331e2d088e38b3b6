package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// Docker Model Runner serves an OpenAI-compatible API under this path.
const modelRunnerBase = "http://localhost/exp/vDD4.40/engines/llama.cpp/v1"

// Config holds LLM client configuration. Either SocketPath (Docker Model
// Runner) or BaseURL (any OpenAI-compatible endpoint) must be set.
type Config struct {
	SocketPath string // Unix socket path for Docker Model Runner
	BaseURL    string // e.g. "https://api.openai.com/v1"
	APIKey     string
	Model      string // Model name (e.g., "ai/gemma3")
	MaxTokens  int    // 0 means no limit
	System     string // optional system prompt sent with every request
}

// Client wraps an OpenAI-compatible chat completions API.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
	maxTokens  int
	system     string
}

// New creates a new LLM client.
func New(config Config) (*Client, error) {
	if config.SocketPath == "" && config.BaseURL == "" {
		return nil, fmt.Errorf("socket path or base url is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	client := &Client{
		httpClient: &http.Client{},
		apiKey:     config.APIKey,
		model:      config.Model,
		maxTokens:  config.MaxTokens,
		system:     config.System,
	}

	if config.SocketPath != "" {
		client.httpClient.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", config.SocketPath)
			},
		}
		client.endpoint = modelRunnerBase + "/chat/completions"
	} else {
		client.endpoint = strings.TrimRight(config.BaseURL, "/") + "/chat/completions"
	}

	return client, nil
}

// chatRequest is the request payload for the chat completions API.
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the response from the chat completions API.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a prompt to the LLM and returns the response.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithMaxTokens(ctx, prompt, c.maxTokens)
}

// CompleteWithMaxTokens sends a prompt with a token limit on the response.
// If maxTokens is 0, no limit is applied.
func (c *Client) CompleteWithMaxTokens(ctx context.Context, prompt string, maxTokens int) (string, error) {
	var messages []chatMessage
	if c.system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: c.system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages, MaxTokens: maxTokens})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	slog.Debug("sending completion", "model", c.model, "prompt_len", len(prompt))
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if chatResp.Error != nil {
		return "", fmt.Errorf("API error: %s", chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response returned")
	}

	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}
