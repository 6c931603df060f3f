package recovery

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "monitorrunner/internal/errors"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	Jitter         bool
	RetryCondition func(error) bool
	Logger         *logrus.Logger
}

// DefaultRetryConfig returns a default retry configuration, retrying
// anything the error taxonomy classifies as transient.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
		RetryCondition: apperrors.IsTransient,
		Logger:         logrus.New(),
	}
}

// NewConstantPolicy returns a retry config with a fixed delay between
// attempts (BackoffFactor 1.0, no jitter) — the shape used for
// alert-save retries, where the store wants predictable pacing rather
// than growing backoff.
func NewConstantPolicy(maxAttempts int, delay time.Duration, logger *logrus.Logger) RetryConfig {
	if logger == nil {
		logger = logrus.New()
	}
	return RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialDelay:   delay,
		MaxDelay:       delay,
		BackoffFactor:  1.0,
		Jitter:         false,
		RetryCondition: apperrors.IsTransient,
		Logger:         logger,
	}
}

// NewExponentialPolicy returns a jittered exponential-backoff retry
// config — the shape used for move-alerts and destination publish.
func NewExponentialPolicy(maxAttempts int, initialDelay, maxDelay time.Duration, logger *logrus.Logger) RetryConfig {
	if logger == nil {
		logger = logrus.New()
	}
	return RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialDelay:   initialDelay,
		MaxDelay:       maxDelay,
		BackoffFactor:  2.0,
		Jitter:         true,
		RetryCondition: apperrors.IsTransient,
		Logger:         logger,
	}
}

// LiveRetryConfig holds a RetryConfig behind an atomic pointer that Set
// can swap without disturbing in-flight retry loops. The teacher builds
// a fresh RetryConfig per call site instead. cmd/runner seeds each one
// at startup, and no config-reload path calls Set.
type LiveRetryConfig struct {
	name string
	ptr  atomic.Pointer[RetryConfig]
}

// NewLiveRetryConfig seeds a LiveRetryConfig with an initial policy.
func NewLiveRetryConfig(name string, initial RetryConfig) *LiveRetryConfig {
	l := &LiveRetryConfig{name: name}
	cfg := initial
	l.ptr.Store(&cfg)
	return l
}

// Name identifies which logical policy this wraps (e.g. "alert-save").
func (l *LiveRetryConfig) Name() string { return l.name }

// Get returns the currently active policy.
func (l *LiveRetryConfig) Get() RetryConfig {
	return *l.ptr.Load()
}

// Set atomically swaps in a new policy, taking effect for the next
// Retry call (in-flight calls keep running under the policy they
// started with).
func (l *LiveRetryConfig) Set(cfg RetryConfig) {
	c := cfg
	l.ptr.Store(&c)
}

// Retry executes a function with retry logic
func Retry(ctx context.Context, config RetryConfig, fn func(context.Context) error) error {
	var lastErr error
	
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		// Execute the function
		err := fn(ctx)
		if err == nil {
			// Success
			if attempt > 1 {
				config.Logger.WithFields(logrus.Fields{
					"attempt": attempt,
					"success": true,
				}).Info("Retry succeeded")
			}
			return nil
		}

		lastErr = err

		// Check if we should retry
		if !config.RetryCondition(err) {
			config.Logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"error":   err.Error(),
				"reason":  "retry condition not met",
			}).Debug("Not retrying due to retry condition")
			return err
		}

		// Don't sleep after the last attempt
		if attempt == config.MaxAttempts {
			break
		}

		// Calculate delay
		delay := calculateDelay(config, attempt)

		config.Logger.WithFields(logrus.Fields{
			"attempt":    attempt,
			"error":      err.Error(),
			"next_delay": delay,
		}).Warn("Retrying after error")

		// Wait before next attempt
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			// Continue to next attempt
		}
	}

	config.Logger.WithFields(logrus.Fields{
		"max_attempts": config.MaxAttempts,
		"final_error":  lastErr.Error(),
	}).Error("All retry attempts failed")

	return fmt.Errorf("all %d retry attempts failed, last error: %w", config.MaxAttempts, lastErr)
}

// calculateDelay calculates the delay for the next retry attempt
func calculateDelay(config RetryConfig, attempt int) time.Duration {
	// Exponential backoff
	delay := time.Duration(float64(config.InitialDelay) * math.Pow(config.BackoffFactor, float64(attempt-1)))
	
	// Cap at max delay
	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	// Add jitter to prevent thundering herd
	if config.Jitter {
		jitterRange := float64(delay) * 0.1 // 10% jitter
		jitter := time.Duration(rand.Float64() * jitterRange)
		if rand.Intn(2) == 0 {
			delay += jitter
		} else {
			delay -= jitter
		}
	}

	return delay
}

// RetryWithCircuitBreaker combines retry logic with circuit breaker
func RetryWithCircuitBreaker(
	ctx context.Context,
	retryConfig RetryConfig,
	circuitBreaker *CircuitBreaker,
	fn func(context.Context) error,
) error {
	return Retry(ctx, retryConfig, func(ctx context.Context) error {
		return circuitBreaker.Execute(ctx, fn)
	})
}

