package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dmitrijs2005/llmgate/internal/common"
	"github.com/dmitrijs2005/llmgate/internal/logging"
)

// StatusError is a non-2xx reply from a provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Body)
}

// RetryPolicy configures how connection attempts are retried.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxRetries      uint64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  10 * time.Second,
		MaxRetries:      3,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.InitialInterval
	expo.MaxInterval = p.MaxInterval
	expo.MaxElapsedTime = p.MaxElapsedTime
	return backoff.WithContext(backoff.WithMaxRetries(expo, p.MaxRetries), ctx)
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return string(b)
}

// postJSON sends body to url and returns the open response once the
// provider answers 2xx. Transport errors, 429 and 5xx are retried; other
// statuses fail immediately. Errors wrap common.ErrProviderUnavailable.
func postJSON(ctx context.Context, hc *http.Client, policy RetryPolicy, log logging.Logger, url string, headers map[string]string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var resp *http.Response
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		r, err := hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			log.Warn(ctx, "provider request failed", "url", url, "error", err)
			return err
		}
		if r.StatusCode >= 200 && r.StatusCode < 300 {
			resp = r
			return nil
		}

		serr := &StatusError{StatusCode: r.StatusCode, Body: readSnippet(r.Body)}
		_ = r.Body.Close()
		if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
			log.Warn(ctx, "provider retryable status", "url", url, "status", r.StatusCode)
			return serr
		}
		return backoff.Permanent(serr)
	}

	if err := backoff.Retry(op, policy.backOff(ctx)); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrProviderUnavailable, err)
	}
	return resp, nil
}
