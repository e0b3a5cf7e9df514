package grading

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// httpClient is the shared retrying HTTP transport under both provider
// graders. Transient failures (network errors, 5xx, 429) are retried with
// exponential backoff up to MaxRetries, waiting at least the 429 Retry-After
// hint; auth and 4xx failures are not retried.
type httpClient struct {
	provider   string
	client     *http.Client
	maxRetries int
	logger     *zap.Logger
}

func newHTTPClient(provider string, timeout time.Duration, maxRetries int, logger *zap.Logger) *httpClient {
	return &httpClient{
		provider: provider,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
			Timeout: timeout,
		},
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// postJSON sends reqBody to url and decodes the response into respBody.
// It returns the number of HTTP attempts made so callers can account for
// every API call, including the ones that failed.
func (c *httpClient) postJSON(ctx context.Context, url string, headers map[string]string, reqBody, respBody any) (int, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	attempts := 0
	var lastErr error
	var retryAfter time.Duration

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := nextBackoff(attempt, retryAfter)
			retryAfter = 0
			c.logger.Debug("retrying provider request",
				zap.String("provider", c.provider),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return attempts, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return attempts, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		attempts++
		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return attempts, ctx.Err()
			}
			lastErr = &ProviderError{Provider: c.provider, Message: "request failed", Cause: err}
			c.logger.Warn("provider request failed, will retry",
				zap.String("provider", c.provider),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = &ParseError{Provider: c.provider, Cause: readErr}
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if err := json.Unmarshal(body, respBody); err != nil {
				return attempts, &ParseError{Provider: c.provider, Raw: string(body), Cause: err}
			}
			return attempts, nil

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return attempts, &AuthError{Provider: c.provider, Message: string(body)}

		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			lastErr = &RateLimitError{
				Provider:   c.provider,
				RetryAfter: retryAfter,
				Message:    string(body),
			}
			c.logger.Warn("provider rate limited, will retry",
				zap.String("provider", c.provider),
				zap.Int("attempt", attempts),
			)

		case resp.StatusCode >= 500:
			lastErr = &ProviderError{Provider: c.provider, StatusCode: resp.StatusCode, Message: string(body)}
			c.logger.Warn("provider server error, will retry",
				zap.String("provider", c.provider),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempts),
			)

		default:
			// Remaining 4xx are permanent request errors.
			return attempts, &ProviderError{Provider: c.provider, StatusCode: resp.StatusCode, Message: string(body)}
		}
	}

	return attempts, lastErr
}

// nextBackoff returns the exponential delay for a retry attempt, stretched
// to the server's Retry-After hint when that is longer.
func nextBackoff(attempt int, retryAfter time.Duration) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
	if retryAfter > backoff {
		return retryAfter
	}
	return backoff
}

// parseRetryAfter handles both delay-seconds and HTTP-date header forms.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}
	return 0
}
