package genservice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
)

// RetryPolicy retries failed generation calls with exponential backoff.
// The zero value makes a single attempt.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Backoff is the delay before the first retry; it doubles each retry.
	Backoff time.Duration
	// Retryable reports whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Backoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	if p.Backoff > 0 {
		b.MaxInterval = p.Backoff << 6
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(p.MaxRetries, 0))), ctx)
}

// Do runs fn until it succeeds, the retries are spent, ctx is done, or fn
// returns an error Retryable rejects. Context errors are never retried.
func (p RetryPolicy) Do(ctx context.Context, label string, fn func(ctx context.Context) (string, error)) (string, error) {
	var text string
	attempts := 0
	op := func() error {
		attempts++
		out, err := fn(ctx)
		if err == nil {
			text = out
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Printf("[genservice] %s attempt %d/%d failed, retrying in %s: %v", label, attempts, p.MaxRetries+1, wait, err)
	}

	err := backoff.RetryNotify(op, p.backOff(ctx), notify)
	if err == nil {
		return text, nil
	}
	if attempts > 1 {
		return "", fmt.Errorf("%s failed after %d attempts: %w", label, attempts, err)
	}
	return "", err
}

// openAIRetryable retries rate limits, server errors and transport
// failures. Other API errors such as 400 or 401 fail at once.
func openAIRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
