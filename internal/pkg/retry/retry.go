// Package retry wraps operations with classification-aware exponential
// backoff. Transient failures are retried up to a budget; permanent ones
// are returned immediately without consuming attempts.
package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/gofiber/fiber/v2/log"

	"github.com/subkeeper/subkeeper/internal/pkg/lock"
)

// Config controls the backoff schedule.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2,
	}
}

// retryableTagged is implemented by errors that carry their own
// classification from the point of origin (billing.Failure).
type retryableTagged interface {
	Retryable() bool
}

// MySQL server codes worth a retry: lock wait timeout, deadlock, and the
// two gone-away variants.
var transientMySQLCodes = map[uint16]bool{
	1205: true,
	1213: true,
	2006: true,
	2013: true,
}

// IsRetryable classifies an error by its tag, never by message text.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var tagged retryableTagged
	if errors.As(err, &tagged) {
		return tagged.Retryable()
	}
	if errors.Is(err, lock.ErrTimeout) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return transientMySQLCodes[myErr.Number]
	}
	return false
}

// Delay computes the backoff before attempt n (1-based), capped at
// MaxDelay.
func (c Config) Delay(attempt int) time.Duration {
	delay := float64(c.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= c.Multiplier
	}
	if capped := float64(c.MaxDelay); delay > capped {
		delay = capped
	}
	return time.Duration(delay)
}

// Do executes fn, retrying transient failures with exponential backoff.
// After MaxAttempts the last error is returned. Permanent failures pass
// straight through. Every attempt is logged with the operation name.
func Do[T any](ctx context.Context, name string, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = DefaultConfig().Multiplier
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			if attempt > 1 {
				log.Infof("[Retry] %s succeeded on attempt %d", name, attempt)
			}
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			log.Infof("[Retry] %s failed permanently on attempt %d: %v", name, attempt, err)
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.Delay(attempt)
		log.Warnf("[Retry] %s attempt %d failed (retrying in %s): %v", name, attempt, delay, err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	log.Errorf("[Retry] %s exhausted %d attempts: %v", name, cfg.MaxAttempts, lastErr)
	return zero, lastErr
}
