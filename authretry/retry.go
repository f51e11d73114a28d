package authretry

import (
	"context"
	"fmt"
	"time"

	"github.com/donantes/edge/identity"
	"github.com/donantes/edge/logger"
)

// RetryConfig configures authentication retry behavior
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial call)
	MaxAttempts int

	// BaseDelay is the base backoff duration
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff
	MaxDelay time.Duration
}

// DefaultRetryConfig returns the coordinator's standard policy: three
// attempts, exponential backoff capped at ten seconds for rate limiting,
// linear backoff for other transient failures.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// nonRetryableCodes are provider failures that further attempts cannot fix.
var nonRetryableCodes = map[string]struct{}{
	identity.CodeInvalidEmail:      {},
	identity.CodeUserDisabled:      {},
	identity.CodeUserNotFound:      {},
	identity.CodeWrongPassword:     {},
	identity.CodeInvalidCredential: {},
	identity.CodeEmailInUse:        {},
}

// IsRateLimited reports whether the provider signaled too many requests.
func IsRateLimited(err error) bool {
	return identity.CodeOf(err) == identity.CodeTooManyRequests
}

// IsNonRetryable reports whether the failure is terminal for this operation.
func IsNonRetryable(err error) bool {
	_, ok := nonRetryableCodes[identity.CodeOf(err)]
	return ok
}

// ExhaustedError is returned when every attempt failed. It carries the
// last observed cause.
type ExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("authentication failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Cause
}

// Operation is an authentication call the coordinator can retry.
type Operation func(ctx context.Context) error

// Coordinator wraps authentication calls with bounded retries. Attempts
// are strictly sequential; there is never more than one in flight.
type Coordinator struct {
	config   RetryConfig
	notifier Notifier
	logger   logger.Logger
}

// NewCoordinator builds a coordinator. A nil notifier gets the no-op default.
func NewCoordinator(config RetryConfig, notifier Notifier, log logger.Logger) *Coordinator {
	if config.MaxAttempts <= 0 {
		config = DefaultRetryConfig()
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Coordinator{
		config:   config,
		notifier: notifier,
		logger:   log,
	}
}

// ExecuteWithRetry runs op until it succeeds, fails terminally, or the
// attempt budget is spent. Rate-limit failures back off exponentially,
// min(base*2^attempt, max); other transient failures back off linearly.
// Non-retryable failures propagate immediately. Exhaustion returns an
// *ExhaustedError wrapping the last cause.
func (c *Coordinator) ExecuteWithRetry(ctx context.Context, op Operation) error {
	var lastErr error

	for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 0 {
				c.logger.Info("authentication succeeded after retry",
					logger.Int("attempt", attempt+1))
			}
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			c.logger.Warn("authentication failed terminally",
				logger.String("code", identity.CodeOf(err)))
			return err
		}

		if attempt == c.config.MaxAttempts-1 {
			break
		}

		var delay time.Duration
		if IsRateLimited(err) {
			delay = c.config.BaseDelay * (1 << uint(attempt+1))
			if delay > c.config.MaxDelay {
				delay = c.config.MaxDelay
			}
			c.notifier.RateLimited(err, delay)
		} else {
			delay = c.config.BaseDelay * time.Duration(attempt+1)
		}

		c.logger.Debug("authentication attempt failed, backing off",
			logger.Int("attempt", attempt+1),
			logger.Duration("delay", delay),
			logger.Err(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	c.logger.Error("authentication attempts exhausted",
		logger.Int("attempts", c.config.MaxAttempts),
		logger.Err(lastErr))

	return &ExhaustedError{
		Attempts: c.config.MaxAttempts,
		Cause:    lastErr,
	}
}

// RateLimitNotice surfaces a rate-limit warning through the notifier.
// It reports whether a notice actually fired and never panics, even with
// no notifier wired.
func (c *Coordinator) RateLimitNotice(err error) (fired bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("rate limit notifier panicked", logger.Any("panic", r))
			fired = false
		}
	}()

	if !IsRateLimited(err) {
		return false
	}
	return c.notifier.RateLimited(err, c.config.MaxDelay)
}
