package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
)

// retryingClient wraps a provider client with bounded retries for
// transient failures. IsRetryable decides which errors are worth
// retrying; everything else surfaces immediately.
type retryingClient struct {
	inner    Client
	attempts uint
	delay    time.Duration
	maxDelay time.Duration
}

func withRetries(inner Client) Client {
	return &retryingClient{
		inner:    inner,
		attempts: 3,
		delay:    2 * time.Second,
		maxDelay: 10 * time.Second,
	}
}

func (c *retryingClient) Model() string {
	return c.inner.Model()
}

func (c *retryingClient) Chat(ctx context.Context, req Request, result any) (*Response, error) {
	var resp *Response
	err := retry.Do(
		func() error {
			var err error
			resp, err = c.inner.Chat(ctx, req, result)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.MaxDelay(c.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return IsRetryable(ctx, err)
		}),
		retry.OnRetry(func(n uint, err error) {
			slog.WarnContext(ctx, "llm call failed, retrying",
				"model", c.inner.Model(), "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
