package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"aala/internal/config"
	"aala/internal/tables"
)

const maxAttempts = 5

// Client downloads reference tables published as a YAML document.
type Client struct {
	cfg        config.Config
	httpClient *http.Client
	limiter    *RateLimiter
}

type FetchResult struct {
	Tables      *tables.Tables
	Raw         []byte
	ETag        string
	NotModified bool
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.TablesTimeoutMs) * time.Millisecond},
		limiter:    NewRateLimiter(cfg.TablesRateLimitRPS),
	}
}

// FetchTables downloads and validates the tables document. When etag matches
// the server copy the result is NotModified and carries no tables.
func (c *Client) FetchTables(ctx context.Context, etag string) (FetchResult, error) {
	if err := c.cfg.Require("TABLES_URL", c.cfg.TablesURL); err != nil {
		return FetchResult{}, err
	}

	body, resp, err := c.fetch(ctx, c.cfg.TablesURL, etag)
	if err != nil {
		return FetchResult{}, err
	}
	if resp.StatusCode == http.StatusNotModified {
		return FetchResult{ETag: etag, NotModified: true}, nil
	}

	t, err := tables.Parse(body)
	if err != nil {
		return FetchResult{}, fmt.Errorf("remote tables: %w", err)
	}
	return FetchResult{Tables: t, Raw: body, ETag: resp.Header.Get("ETag")}, nil
}

func (c *Client) fetch(ctx context.Context, target, etag string) ([]byte, *http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, nil, err
		}
		if token := strings.TrimSpace(c.cfg.TablesToken); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("Accept", "application/yaml, text/yaml, text/plain")
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode == http.StatusNotModified {
			return nil, resp, nil
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if isRetryableStatus(resp.StatusCode) && attempt < maxAttempts {
				lastErr = fmt.Errorf("tables status %d", resp.StatusCode)
				if err := sleepCtx(ctx, backoff(attempt)); err != nil {
					return nil, nil, err
				}
				continue
			}
			return nil, nil, fmt.Errorf("tables fetch error: status=%d body=%s", resp.StatusCode, truncate(string(body), 200))
		}
		return body, resp, nil
	}

	if lastErr == nil {
		lastErr = errors.New("tables request failed")
	}
	return nil, nil, lastErr
}

func backoff(attempt int) time.Duration {
	return time.Duration(250*(1<<(attempt-1))+rand.Intn(100)) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
