package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/chatsync/internal/logging"
)

// RetryConfig configures retry behavior with exponential backoff
type RetryConfig struct {
	MaxRetries   int           `json:"max_retries"`   // Maximum number of retry attempts (default: 3)
	BaseDelay    time.Duration `json:"base_delay"`    // Base delay between retries (default: 1s)
	MaxDelay     time.Duration `json:"max_delay"`     // Maximum delay between retries (default: 30s)
	Multiplier   float64       `json:"multiplier"`    // Exponential backoff multiplier (default: 2.0)
	Jitter       bool          `json:"jitter"`        // Add random jitter (default: true)
	InitialDelay time.Duration `json:"initial_delay"` // Wait before the first attempt (default: 0)
	LogRetries   bool          `json:"log_retries"`   // Whether to log retry attempts (default: true)
}

// RetryResult contains information about the retry operation
type RetryResult struct {
	Attempts      int           `json:"attempts"`       // Total number of attempts made
	TotalDuration time.Duration `json:"total_duration"` // Total time spent on all attempts
	LastError     error         `json:"-"`              // Last error encountered
	Success       bool          `json:"success"`        // Whether the operation eventually succeeded
	RetryReasons  []string      `json:"retry_reasons"`  // Reasons for each retry attempt
}

// DefaultRetryConfig returns a retry configuration with sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		LogRetries: true,
	}
}

// PollConfig returns a fixed-interval configuration for waiting on remote
// state: attempts checks spaced interval apart, the first one interval
// after the call.
func PollConfig(attempts int, interval time.Duration) RetryConfig {
	if attempts < 1 {
		attempts = 1
	}
	return RetryConfig{
		MaxRetries:   attempts - 1,
		BaseDelay:    interval,
		MaxDelay:     interval,
		Multiplier:   1.0,
		Jitter:       false,
		InitialDelay: interval,
		LogRetries:   true,
	}
}

// ErrNotReady is returned by a poll operation whose remote state has not
// reached the wanted condition yet.
var ErrNotReady = errors.New("not ready")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Stop marks err as permanent: the retry loop returns it immediately
// instead of spending the remaining attempts.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Stop.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RetryWithBackoff executes an operation with exponential backoff retry logic
func RetryWithBackoff(ctx context.Context, config RetryConfig, operation func() error, logger *logging.RunLogger) RetryResult {
	return RetryWithBackoffAndReason(ctx, config, func() (error, string) {
		err := operation()
		reason := "unknown_error"
		if err != nil {
			reason = err.Error()
		}
		return err, reason
	}, logger)
}

// RetryWithBackoffAndReason executes an operation with exponential backoff retry logic and custom reason tracking
func RetryWithBackoffAndReason(ctx context.Context, config RetryConfig, operation func() (error, string), logger *logging.RunLogger) RetryResult {
	startTime := time.Now()

	result := RetryResult{
		Attempts:     0,
		Success:      false,
		RetryReasons: make([]string, 0),
	}

	if config.InitialDelay > 0 {
		if config.LogRetries && logger != nil {
			logger.Log("Waiting %v before first attempt", config.InitialDelay)
		}
		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		case <-time.After(config.InitialDelay):
		}
	}

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		// Log attempt start
		if config.LogRetries && logger != nil {
			if attempt == 0 {
				logger.Log("Starting operation (attempt %d/%d)", attempt+1, config.MaxRetries+1)
			} else {
				logger.Log("Retrying operation (attempt %d/%d)", attempt+1, config.MaxRetries+1)
			}
		}

		// Execute the operation
		err, reason := operation()
		if err == nil {
			// Success!
			result.Success = true
			result.TotalDuration = time.Since(startTime)
			if config.LogRetries && logger != nil {
				if attempt == 0 {
					logger.Log("Operation succeeded on first attempt")
				} else {
					logger.Log("Operation succeeded after %d retries (total duration: %v)", attempt, result.TotalDuration)
				}
			}
			return result
		}

		// Operation failed
		result.LastError = err
		result.RetryReasons = append(result.RetryReasons, reason)

		var permanent *permanentError
		if errors.As(err, &permanent) {
			result.LastError = permanent.err
			result.TotalDuration = time.Since(startTime)
			if config.LogRetries && logger != nil {
				logger.Log("Operation failed permanently on attempt %d: %v", attempt+1, permanent.err)
			}
			return result
		}

		// Check if we should retry
		if attempt >= config.MaxRetries {
			// No more retries left
			result.TotalDuration = time.Since(startTime)
			if config.LogRetries && logger != nil {
				logger.Log("Operation failed after %d attempts (total duration: %v): %v",
					result.Attempts, result.TotalDuration, err)
			}
			return result
		}

		// Check context cancellation
		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			if config.LogRetries && logger != nil {
				logger.Log("Operation cancelled during retry %d: %v", attempt+1, ctx.Err())
			}
			return result
		}

		// Calculate delay for next attempt
		delay := calculateDelay(config, attempt)
		nextAttemptTime := time.Now().Add(delay)

		if config.LogRetries && logger != nil {
			logger.Log("Operation failed (attempt %d/%d): %v", attempt+1, config.MaxRetries+1, err)
			logger.Log("Waiting %v before retry (next attempt at %v)", delay, nextAttemptTime.Format("15:04:05"))
		}

		// Wait before retrying
		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			if config.LogRetries && logger != nil {
				logger.Log("Operation cancelled during backoff delay: %v", ctx.Err())
			}
			return result
		case <-time.After(delay):
			// Continue to next attempt
		}
	}

	// This should never be reached due to the loop logic above
	result.TotalDuration = time.Since(startTime)
	return result
}

// calculateDelay calculates the delay for the next retry attempt using exponential backoff
func calculateDelay(config RetryConfig, attempt int) time.Duration {
	// Calculate exponential backoff: baseDelay * multiplier^attempt
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))

	// Apply maximum delay limit
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	// Add jitter to prevent thundering herd problem
	if config.Jitter {
		// Add up to 10% random jitter
		jitterRange := delay * 0.1
		jitter := (rand.Float64() - 0.5) * 2 * jitterRange // Random value between -jitterRange and +jitterRange
		delay += jitter

		// Ensure delay is not negative
		if delay < 0 {
			delay = float64(config.BaseDelay)
		}
	}

	return time.Duration(delay)
}

// IsRetryableError reports whether err is worth another attempt: HTTP
// 408, 429 and 5xx responses, timeouts and common transport failures.
// Permanent errors never are.
func IsRetryableError(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if errors.Is(err, ErrNotReady) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var status interface{ HTTPStatus() int }
	if errors.As(err, &status) {
		code := status.HTTPStatus()
		return code == 408 || code == 429 || code >= 500
	}

	errStr := strings.ToLower(err.Error())
	for _, retryable := range retryableFragments {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}
	return false
}

var retryableFragments = []string{
	"connection refused",
	"connection reset",
	"connection timeout",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"dns lookup failed",
	"no such host",
	"network unreachable",
	"broken pipe",
	"unexpected eof",
}
