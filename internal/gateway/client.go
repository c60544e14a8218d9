// Package gateway contains HTTP adapters for the external payment providers
// and the signature verifiers for their webhooks.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"

	"github.com/vesna-shop/checkout-api/internal/domain/payment"
)

const (
	maxResponseBytes = 1 << 20
	maxRetryElapsed  = 15 * time.Second
)

// httpDoer is the subset of http.Client the adapters need.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// postJSON sends a JSON body and decodes a JSON response into out. A non-2xx
// status yields a *payment.GatewayError; 5xx and transport failures are
// marked transient.
func postJSON(ctx context.Context, c httpDoer, provider, url string, headers map[string]string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	if err != nil {
		return &payment.GatewayError{Provider: provider, Transient: true, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &payment.GatewayError{Provider: provider, Transient: true, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &payment.GatewayError{
			Provider:  provider,
			Transient: resp.StatusCode >= 500,
			Err:       errors.Errorf("status %d: %s", resp.StatusCode, truncate(data, 256)),
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &payment.GatewayError{Provider: provider, Err: errors.Wrap(err, "decode response")}
		}
	}
	return nil
}

// retryTransient runs op with bounded exponential backoff, retrying only
// transient gateway errors. It must only wrap idempotent provider calls.
func retryTransient(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxRetryElapsed

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var gwErr *payment.GatewayError
		if errors.As(err, &gwErr) && gwErr.Transient {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
