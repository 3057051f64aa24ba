package llm

import (
	"context"
	"strings"
	"time"

	"iris/internal/logging"
	"iris/internal/runtime/ports"
)

// RetryConfig bounds the retry loop around stream setup.
type RetryConfig struct {
	// MaxAttempts is the number of retries after the first failure.
	MaxAttempts int

	// BaseDelay is the first backoff interval; it doubles per attempt up
	// to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryConfig suits provider rate limits and transient upstream
// errors.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// RetryClient wraps an LLM client and retries stream establishment on
// transient failures. An error that surfaces mid-stream is never retried:
// replaying a partially consumed response would duplicate output.
type RetryClient struct {
	inner  ports.LLMClient
	cfg    RetryConfig
	logger logging.Logger
}

var _ ports.LLMClient = (*RetryClient)(nil)

// NewRetryClient wraps client with retry-on-setup behavior.
func NewRetryClient(client ports.LLMClient, cfg RetryConfig, logger logging.Logger) *RetryClient {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &RetryClient{inner: client, cfg: cfg, logger: logging.OrNop(logger)}
}

// Model returns the underlying model name.
func (c *RetryClient) Model() string { return c.inner.Model() }

// StreamMessages opens a stream, retrying with exponential backoff while the
// setup error looks transient.
func (c *RetryClient) StreamMessages(ctx context.Context, messages []ports.Message, tools []ports.ToolDefinition) (<-chan ports.ChunkResponse, ports.ErrFunc, error) {
	delay := c.cfg.BaseDelay
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Warn("llm stream setup failed, retrying in %v (attempt %d/%d): %v",
				delay, attempt, c.cfg.MaxAttempts, lastErr)
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.cfg.MaxDelay {
				delay = c.cfg.MaxDelay
			}
		}

		stream, errf, err := c.inner.StreamMessages(ctx, messages, tools)
		if err == nil {
			return stream, errf, nil
		}
		lastErr = err
		if !isTransient(err) {
			return nil, nil, err
		}
	}
	return nil, nil, lastErr
}

// isTransient classifies setup errors worth retrying. Provider clients fold
// the HTTP status into the error text, so substring matching covers both
// status codes and network-layer failures.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"status 429", "rate limit",
		"status 500", "status 502", "status 503", "status 504",
		"connection refused", "connection reset", "broken pipe",
		"timeout", "deadline exceeded",
		"no such host", "temporary failure",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
