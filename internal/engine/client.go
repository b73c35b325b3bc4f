// Package engine is a thin client for the upstream crawling engine's
// HTTP API. The bridge only triggers work here; results come back
// later as webhook events.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

// Config holds the engine endpoint settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client issues outbound calls to the engine.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	logger  *zap.Logger
}

// NewClient builds a client with a bounded request timeout.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// ScrapeOptions tunes a single scrape request.
type ScrapeOptions struct {
	Formats         []string `json:"formats,omitempty"`
	OnlyMainContent bool     `json:"only_main_content,omitempty"`
	WebhookURL      string   `json:"webhook_url,omitempty"`
}

type scrapeRequest struct {
	URL string `json:"url"`
	ScrapeOptions
}

type scrapeResponse struct {
	ID      string `json:"id"`
	JobID   string `json:"job_id"`
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Scrape asks the engine to fetch one URL and returns the
// engine-assigned job id. The scraped content arrives later as webhook
// events carrying that id.
func (c *Client) Scrape(ctx context.Context, url string, opts ScrapeOptions) (string, error) {
	payload, err := json.Marshal(scrapeRequest{URL: url, ScrapeOptions: opts})
	if err != nil {
		return "", fmt.Errorf("marshal scrape request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/scrape", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call scrape endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read scrape response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("engine rejected scrape",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url))
		return "", fmt.Errorf("engine returned status %d", resp.StatusCode)
	}

	var parsed scrapeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode scrape response: %w", err)
	}
	jobID := parsed.ID
	if jobID == "" {
		jobID = parsed.JobID
	}
	if jobID == "" {
		return "", fmt.Errorf("engine response has no job id")
	}
	return jobID, nil
}
