// Package research turns confirmed tasks into web research results.
package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultBaseURL = "https://api.jigsawstack.com"
	searchTimeout  = 60 * time.Second
)

// SearchResult is one web hit returned by the search API.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

// SearchResponse is the search API's answer for one query.
type SearchResponse struct {
	Success    bool           `json:"success"`
	Query      string         `json:"query"`
	AIOverview string         `json:"ai_overview"`
	Results    []SearchResult `json:"results"`
}

// Client calls a JigsawStack-compatible web search API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a search client for the hosted API.
func NewClient(apiKey string) *Client {
	return NewClientWithBaseURL(apiKey, defaultBaseURL)
}

// NewClientWithBaseURL creates a search client against a custom base URL
// (used by tests).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: searchTimeout,
		},
	}
}

// Search runs one web search with an AI overview requested.
func (c *Client) Search(ctx context.Context, query string) (*SearchResponse, error) {
	payload := map[string]any{
		"query":       query,
		"ai_overview": true,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/web/search", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search API returned %d: %s", resp.StatusCode, string(body))
	}

	var result SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("search API reported failure for %q", query)
	}
	return &result, nil
}
