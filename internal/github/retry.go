package github

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"
)

const (
	// Default retry configuration for GitHub operations
	defaultMaxRetries   = 3
	defaultInitialDelay = 1 * time.Second
	defaultMaxDelay     = 30 * time.Second
)

// RetryPolicy controls retryWithBackoff.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   defaultMaxRetries,
		InitialDelay: defaultInitialDelay,
		MaxDelay:     defaultMaxDelay,
	}
}

// retryWithBackoff executes fn with exponential backoff. Permanent errors
// and context cancellation end the loop immediately.
func retryWithBackoff(ctx context.Context, policy RetryPolicy, fn func() error) error {
	return retryIf(ctx, policy, isRetryableError, fn)
}

// retryCreate is retryWithBackoff for non-idempotent requests. A dropped
// connection may have landed the request, so only errors that prove
// GitHub did not act on it are retried.
func retryCreate(ctx context.Context, policy RetryPolicy, fn func() error) error {
	return retryIf(ctx, policy, isRetryableCreateError, fn)
}

func retryIf(ctx context.Context, policy RetryPolicy, retryable func(error) bool, fn func() error) error {
	var lastErr error
	delay := policy.InitialDelay

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := delay
			if reset := rateLimitReset(lastErr); reset > wait {
				wait = reset
			}
			if policy.MaxDelay > 0 && wait > policy.MaxDelay {
				wait = policy.MaxDelay
			}
			log.Printf("[Retry] Attempt %d/%d after %v delay", attempt+1, policy.MaxRetries+1, wait)
			if err := sleepContext(ctx, wait); err != nil {
				return err
			}
			delay *= 2 // 1s -> 2s -> 4s
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 0 {
				log.Printf("[Retry] Succeeded on attempt %d/%d", attempt+1, policy.MaxRetries+1)
			}
			return nil
		}

		if ctx.Err() != nil {
			return lastErr
		}
		if !retryable(lastErr) {
			log.Printf("[Retry] Non-retryable error, failing immediately: %v", lastErr)
			return lastErr
		}

		if attempt < policy.MaxRetries {
			log.Printf("[Retry] Retryable error on attempt %d/%d: %v", attempt+1, policy.MaxRetries+1, lastErr)
		}
	}

	log.Printf("[Retry] All %d attempts failed, giving up", policy.MaxRetries+1)
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var (
	// definitePatterns mean the request was refused or never reached GitHub.
	definitePatterns = []string{
		"connection refused",
		"no such host",
		"network is unreachable",
		"rate limit",
		"http 502",
		"http 503",
	}
	// ambiguousPatterns mean the connection failed mid-request.
	ambiguousPatterns = []string{
		"eof",
		"timeout",
		"connection reset",
		"broken pipe",
		"temporary failure",
	}
)

// isRetryableError determines if an error should trigger a retry.
// Throttling and server-side failures are transient; everything the API
// rejects on its merits is permanent.
func isRetryableError(err error) bool {
	retryable, _ := classifyError(err)
	return retryable
}

// isRetryableCreateError excludes transport failures that leave it unknown
// whether the issue was created.
func isRetryableCreateError(err error) bool {
	retryable, ambiguous := classifyError(err)
	return retryable && !ambiguous
}

func classifyError(err error) (retryable, ambiguous bool) {
	if err == nil {
		return false, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false, false
	}

	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return true, false
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true, false
	}
	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		code := respErr.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= 500, false
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range definitePatterns {
		if strings.Contains(errStr, pattern) {
			return true, false
		}
	}
	for _, pattern := range ambiguousPatterns {
		if strings.Contains(errStr, pattern) {
			return true, true
		}
	}
	return false, false
}

// rateLimitReset returns how long GitHub asked us to back off, if it did.
func rateLimitReset(err error) time.Duration {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return time.Until(rateErr.Rate.Reset.Time)
	}
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) && abuseErr.RetryAfter != nil {
		return *abuseErr.RetryAfter
	}
	return 0
}
