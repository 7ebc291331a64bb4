// Package openai adapts OpenAI-compatible HTTP APIs to the pipeline's
// transcription, translation and speech-synthesis capabilities.
//
// Any server speaking the OpenAI wire format works: the translation client
// defaults to Groq, and the transcription and speech clients can target a
// self-hosted Whisper or TTS gateway through base_url.
package openai

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
)

const (
	defaultRetryAttempts  = 4
	defaultRetryBaseDelay = time.Second
	defaultRetryMaxDelay  = 10 * time.Second
)

// ClientConfig captures connection settings shared by every capability.
type ClientConfig struct {
	APIKey         string
	BaseURL        string
	TimeoutSeconds int
}

// Option customizes a capability client.
type Option func(*retryPolicy)

// WithRetryMaxAttempts overrides the attempt count (minimum 1).
func WithRetryMaxAttempts(attempts int) Option {
	return func(p *retryPolicy) {
		p.attempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(p *retryPolicy) {
		p.baseDelay = baseDelay
		p.maxDelay = maxDelay
	}
}

func newAPIClient(cfg ClientConfig) *goopenai.Client {
	conf := goopenai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		conf.BaseURL = base
	}
	timeout := 10 * time.Minute
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	conf.HTTPClient = &http.Client{Timeout: timeout}
	return goopenai.NewClientWithConfig(conf)
}

type retryPolicy struct {
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
}

func newRetryPolicy(opts []Option) retryPolicy {
	p := retryPolicy{attempts: defaultRetryAttempts, baseDelay: defaultRetryBaseDelay, maxDelay: defaultRetryMaxDelay}
	for _, opt := range opts {
		opt(&p)
	}
	if p.attempts <= 0 {
		p.attempts = 1
	}
	return p
}

// do runs fn until it succeeds, returns a non-retryable error or runs out of
// attempts. The returned bool reports whether the last error was retryable.
func (p retryPolicy) do(ctx context.Context, fn func() error) (bool, error) {
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		err = fn()
		if err == nil {
			return false, nil
		}
		if !retryable(ctx, err) {
			return false, err
		}
		if attempt == p.attempts {
			break
		}
		if sleepErr := sleep(ctx, p.backoff(attempt)); sleepErr != nil {
			return false, sleepErr
		}
	}
	return true, err
}

// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
func (p retryPolicy) backoff(attempt int) time.Duration {
	if p.baseDelay <= 0 {
		return 0
	}
	delay := p.baseDelay
	for i := 1; i < attempt; i++ {
		if delay > p.maxDelay/2 {
			return p.maxDelay
		}
		delay *= 2
	}
	if p.maxDelay > 0 && delay > p.maxDelay {
		return p.maxDelay
	}
	return delay
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if status := statusCode(err); status != 0 {
		return status == http.StatusRequestTimeout ||
			status == http.StatusTooManyRequests ||
			status >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout()
	}
	return false
}

func statusCode(err error) int {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func ctxErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
