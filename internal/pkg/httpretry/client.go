// Package httpretry provides an HTTP client that retries idempotent requests
// with exponential backoff and jitter. Non-idempotent requests pass through
// once; callers that need to retry them own an explicit retry.Policy.
package httpretry

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/ignite/wa-dispatch/internal/pkg/logger"
	"github.com/ignite/wa-dispatch/internal/pkg/retry"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient wraps an HTTPDoer with retry logic for idempotent methods.
type RetryClient struct {
	client HTTPDoer
	policy retry.Policy
}

// NewRetryClient creates a new RetryClient that wraps the given HTTPDoer.
// If client is nil, http.DefaultClient is used. maxRetries is the number of
// retry attempts after the initial request (default 3).
func NewRetryClient(client HTTPDoer, maxRetries int) *RetryClient {
	if client == nil {
		client = http.DefaultClient
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	p := retry.DefaultPolicy()
	p.MaxAttempts = maxRetries + 1
	return &RetryClient{client: client, policy: p}
}

// WithPolicy replaces the backoff policy.
func (rc *RetryClient) WithPolicy(p retry.Policy) *RetryClient {
	rc.policy = p
	return rc
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// Do executes the request. Idempotent requests are retried on transient
// network errors and on 429/5xx; the last response is returned as-is so
// the caller can inspect the status code and body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	if !idempotent(req.Method) {
		return rc.client.Do(req)
	}

	attempts := rc.policy.Attempts()
	var resp *http.Response
	_, err := rc.policy.Do(req.Context(), func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			logger.Debug("httpretry: retrying", "attempt", attempt, "method", req.Method, "host", req.URL.Host, "path", req.URL.Path)
		}
		r, err := rc.client.Do(req.Clone(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(err)
			}
			return retry.Transient(err)
		}
		if retry.IsRetryableStatus(r.StatusCode) && attempt < attempts {
			// Drain for connection reuse before the next attempt.
			_, _ = io.Copy(io.Discard, r.Body)
			r.Body.Close()
			return fmt.Errorf("httpretry: server returned retryable status %d", r.StatusCode)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
