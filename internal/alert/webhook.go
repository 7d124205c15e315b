package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ppiankov/intentgate/internal/redact"
)

const (
	requestTimeout = 5 * time.Second
	maxAttempts    = 3
)

var (
	httpClient = &http.Client{Timeout: requestTimeout}
	// retryInterval is the first backoff step between attempts.
	retryInterval = time.Second
)

// Send posts event to cfg.URL. 5xx and transport errors are retried with
// exponential backoff; 4xx is final.
func Send(ctx context.Context, cfg AlertConfig, event Event) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("alert: format payload: %w", err)
	}

	post := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			var ue *url.Error
			if errors.As(err, &ue) {
				ue.URL = redact.URL(ue.URL)
			}
			return struct{}{}, err
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return struct{}{}, nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return struct{}{}, backoff.Permanent(fmt.Errorf("webhook rejected: HTTP %d", resp.StatusCode))
		default:
			return struct{}{}, fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
		}
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = retryInterval
	if _, err := backoff.Retry(ctx, post, backoff.WithBackOff(eb), backoff.WithMaxTries(maxAttempts)); err != nil {
		return fmt.Errorf("alert: %s: %w", redact.URL(cfg.URL), err)
	}
	return nil
}
