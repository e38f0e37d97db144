package mailer

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ikkim/account-backend/pkg/logger"
	"github.com/resend/resend-go/v2"
)

const (
	DefaultMaxAttempts = 3
	maxRetryAfter      = 30 * time.Second
)

// RetryingMailer retries transient delivery failures a bounded number of times.
type RetryingMailer struct {
	next        Mailer
	maxAttempts int
	backoff     time.Duration
}

func NewRetryingMailer(next Mailer, maxAttempts int) *RetryingMailer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &RetryingMailer{
		next:        next,
		maxAttempts: maxAttempts,
		backoff:     500 * time.Millisecond,
	}
}

func (m *RetryingMailer) Send(ctx context.Context, msg Message) error {
	var lastErr error
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		err := m.next.Send(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err

		wait, ok := m.retryDelay(err, attempt)
		if !ok || attempt == m.maxAttempts-1 {
			break
		}

		logger.Warn("Email delivery failed, retrying", map[string]interface{}{
			"to":      msg.To,
			"attempt": attempt + 1,
			"wait":    wait.String(),
			"error":   err.Error(),
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}

// retryDelay reports whether err is transient and how long to wait.
func (m *RetryingMailer) retryDelay(err error, attempt int) (time.Duration, bool) {
	if errors.Is(err, ErrInvalidMessage) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var rateLimitErr *resend.RateLimitError
	if errors.As(err, &rateLimitErr) {
		if seconds, convErr := strconv.Atoi(strings.TrimSpace(rateLimitErr.RetryAfter)); convErr == nil && seconds > 0 {
			wait := time.Duration(seconds) * time.Second
			if wait > maxRetryAfter {
				wait = maxRetryAfter
			}
			return wait, true
		}
		return time.Duration(attempt+1) * time.Second, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return time.Duration(attempt+1) * m.backoff, true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "temporar") ||
		strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") {
		return time.Duration(attempt+1) * m.backoff, true
	}

	return 0, false
}
