// Package discovery calls an external discovery service that searches a
// source (forum, review site, issue tracker) and returns candidate posts.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/msgforge/internal/engine"
	"github.com/kalambet/msgforge/internal/jobs"
	"github.com/kalambet/msgforge/internal/retry"
	"github.com/kalambet/msgforge/internal/storage"
)

const defaultTimeout = 60 * time.Second

// Client posts schedule configs to a webhook and decodes the posts it
// returns. It implements jobs.Discoverer.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
}

func NewClient(endpoint, token string, policy retry.Policy) *Client {
	if policy.RetryOn == nil {
		policy.RetryOn = engine.IsTransient
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		policy:     policy,
		logger:     slog.Default(),
	}
}

// StatusError is returned for any non-200 response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("discovery service returned %d: %s", e.Status, e.Body)
}

func (e *StatusError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type runRequest struct {
	ScheduleID string `json:"schedule_id"`
	Name       string `json:"name"`
	Source     string `json:"source"`
	Query      string `json:"query,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// RunSchedule asks the service to run one schedule.
func (c *Client) RunSchedule(ctx context.Context, sc storage.DiscoverySchedule) (jobs.DiscoveryResult, error) {
	body, err := json.Marshal(runRequest{
		ScheduleID: sc.ID,
		Name:       sc.Name,
		Source:     sc.Config.Source,
		Query:      sc.Config.Query,
		Limit:      sc.Config.Limit,
	})
	if err != nil {
		return jobs.DiscoveryResult{}, fmt.Errorf("marshaling request: %w", err)
	}

	policy := c.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Debug("retrying discovery", "schedule_id", sc.ID, "attempt", attempt, "delay", delay, "error", err)
	}
	return retry.Do(ctx, policy, func(ctx context.Context) (jobs.DiscoveryResult, error) {
		return c.post(ctx, body)
	})
}

func (c *Client) post(ctx context.Context, body []byte) (jobs.DiscoveryResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return jobs.DiscoveryResult{}, retry.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return jobs.DiscoveryResult{}, fmt.Errorf("calling discovery service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return jobs.DiscoveryResult{}, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var out jobs.DiscoveryResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return jobs.DiscoveryResult{}, retry.Permanent(fmt.Errorf("decoding discovery response: %w", err))
	}
	return out, nil
}
