// Package providers holds the HTTP plumbing shared by upstream market-data
// clients: request construction with the rotated User-Agent and mapping of
// transport and status failures onto domain.UpstreamError.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/aristath/marketcore/internal/ratelimit"
)

// DefaultTimeout bounds every upstream call that doesn't set its own.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of an error response is kept for logging.
const maxErrorBody = 512

// NewHTTPClient returns a client with the given timeout (DefaultTimeout if zero).
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// GetJSON performs a GET against base+path with query and decodes the JSON
// body into out. Failures come back as *domain.UpstreamError.
func GetJSON(ctx context.Context, client *http.Client, provider, op, base, path string, query url.Values, out any) error {
	u := base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Permanent(provider, op, fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("User-Agent", ratelimit.UserAgent(ctx))
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return Transient(provider, op, 0, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return StatusError(provider, op, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Transient(provider, op, 0, fmt.Errorf("body read timed out: %w", err))
		}
		return Transient(provider, op, resp.StatusCode, fmt.Errorf("malformed response body: %w", err))
	}
	return nil
}
