// Package retrieval is the client for the external context-retrieval
// collaborator. Retrieval is best-effort: any failure here degrades to an
// empty context and must never abort a submission.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

type Client struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewClient builds a retrieval client. An empty baseURL disables retrieval:
// Search always returns "".
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{},
		logger:  logger,
	}
}

type searchResponse struct {
	Context string `json:"context"`
}

// Search asks the collaborator for context relevant to the query. Failures
// are logged and swallowed; the caller always gets a usable (possibly
// empty) string.
func (c *Client) Search(ctx context.Context, query string) string {
	if c.baseURL == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := fmt.Sprintf("%s/api/v1/search?q=%s", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		c.logger.Warn("retrieval request build failed", "error", err)
		return ""
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("retrieval unavailable, continuing without context", "error", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("retrieval returned non-200, continuing without context", "status", resp.StatusCode)
		return ""
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		c.logger.Warn("retrieval response unreadable, continuing without context", "error", err)
		return ""
	}
	return sr.Context
}
