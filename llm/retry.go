package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// retryClient wraps a Client with exponential backoff on transient failures.
type retryClient struct {
	client     Client
	maxRetries uint64
	logger     zerolog.Logger
}

// WithRetry wraps client so failed completions are retried with exponential
// backoff up to maxRetries times. Context cancellation stops retrying
// immediately.
func WithRetry(client Client, maxRetries uint64, logger zerolog.Logger) Client {
	return &retryClient{
		client:     client,
		maxRetries: maxRetries,
		logger:     logger.With().Str("component", "llm_retry").Logger(),
	}
}

// Complete implements Client.
func (r *retryClient) Complete(ctx context.Context, req *Request) (string, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 2 * time.Second
	eb.Multiplier = 2.0
	eb.MaxInterval = 60 * time.Second
	eb.RandomizationFactor = 0.2
	eb.Reset()

	b := backoff.WithMaxRetries(eb, r.maxRetries)

	var result string
	operation := func() error {
		out, err := r.client.Complete(ctx, req)
		if err != nil {
			r.logger.Warn().Err(err).Msg("Completion failed, retrying")
			return err
		}
		result = out
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return result, nil
}
