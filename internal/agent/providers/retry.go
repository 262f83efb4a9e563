package providers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/allyrun/ally/internal/agent"
	"github.com/allyrun/ally/internal/backoff"
)

// RetryConfig tunes the RetryingProvider decorator.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first
	// failure (default 3).
	MaxRetries int

	// BaseTimeout is the per-attempt request budget (default 240s); each
	// retry widens it by RetryIncrement (default 60s) so a slow local model
	// gets more room instead of failing the same way again.
	BaseTimeout    time.Duration
	RetryIncrement time.Duration
}

// DefaultRetryConfig returns the stock retry schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		BaseTimeout:    240 * time.Second,
		RetryIncrement: 60 * time.Second,
	}
}

// networkPolicy doubles per attempt: 1s, 2s, 4s.
var networkPolicy = backoff.BackoffPolicy{InitialMs: 1000, MaxMs: 60_000, Factor: 2, Jitter: 0}

// decodeDelay grows linearly per attempt: 1s, 2s, 3s. Decode failures are
// usually a garbled frame, not an overloaded endpoint, so there is no need
// to back off exponentially.
func decodeDelay(attempt int) time.Duration {
	return time.Duration(1+attempt) * time.Second
}

// RetryingProvider decorates an LLMProvider with bounded retries on request
// setup failures. Only errors returned before any chunk is streamed are
// retried; a mid-stream failure has already delivered partial output and is
// the caller's to handle.
type RetryingProvider struct {
	inner agent.LLMProvider
	cfg   RetryConfig
}

var _ agent.LLMProvider = (*RetryingProvider)(nil)

// WithRetry wraps provider in a RetryingProvider.
func WithRetry(provider agent.LLMProvider, cfg RetryConfig) *RetryingProvider {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultRetryConfig().MaxRetries
	}
	if cfg.BaseTimeout <= 0 {
		cfg.BaseTimeout = DefaultRetryConfig().BaseTimeout
	}
	if cfg.RetryIncrement <= 0 {
		cfg.RetryIncrement = DefaultRetryConfig().RetryIncrement
	}
	return &RetryingProvider{inner: provider, cfg: cfg}
}

func (p *RetryingProvider) Name() string          { return p.inner.Name() }
func (p *RetryingProvider) Models() []agent.Model { return p.inner.Models() }
func (p *RetryingProvider) SupportsTools() bool   { return p.inner.SupportsTools() }

// Complete retries the inner provider's request with the decorator's
// schedule: exponential back-off for network failures, linear for decode
// failures, and a per-attempt timeout that widens on each retry.
func (p *RetryingProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			var delay time.Duration
			if isDecodeError(lastErr) {
				delay = decodeDelay(attempt - 1)
			} else {
				delay = backoff.ComputeBackoff(networkPolicy, attempt)
			}
			if err := backoff.SleepWithContext(ctx, delay); err != nil {
				return nil, lastErr
			}
		}

		attemptTimeout := p.cfg.BaseTimeout + time.Duration(attempt)*p.cfg.RetryIncrement
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)

		chunks, err := p.inner.Complete(attemptCtx, req)
		if err == nil {
			// Keep the attempt context alive for the stream's duration.
			return relayUntilClosed(chunks, cancel), nil
		}
		cancel()

		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// relayUntilClosed forwards chunks and releases the attempt context once
// the stream ends.
func relayUntilClosed(in <-chan *agent.CompletionChunk, cancel context.CancelFunc) <-chan *agent.CompletionChunk {
	out := make(chan *agent.CompletionChunk)
	go func() {
		defer cancel()
		defer close(out)
		for chunk := range in {
			out <- chunk
		}
	}()
	return out
}

func isRetryable(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		if provErr.Reason.IsRetryable() {
			return true
		}
		// Unclassified setup errors (connection refused and friends) are
		// worth another attempt; definitive rejections are not.
		return provErr.Reason == FailoverUnknown
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func isDecodeError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "decode") || strings.Contains(msg, "unmarshal") ||
		strings.Contains(msg, "invalid character")
}
