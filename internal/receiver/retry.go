package receiver

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

var transientPatterns = []string{
	"timeout",
	"temporar",
	"connection reset",
	"connection refused",
	"broken pipe",
	"unexpected eof",
	"network is unreachable",
	"no route to host",
}

// withRetry runs call up to retryAttempts times, backing off only after
// transient network failures.
func (m *Manager) withRetry(ctx context.Context, operation string, call func() error) error {
	attempts := max(m.retryAttempts, 1)
	base := max(m.retryBaseBackoff, 0)
	ceiling := max(m.retryMaxBackoff, base)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt >= attempts || !isTransientNetworkError(err) {
			break
		}

		backoff := backoffForAttempt(base, ceiling, attempt)
		m.logger.Debug("receiver_retry",
			"operation", operation,
			"attempt", attempt+1,
			"attempts", attempts,
			"backoff", backoff.String(),
			"error", err.Error(),
		)
		if err := waitForBackoff(ctx, backoff); err != nil {
			return err
		}
	}
	return lastErr
}

func backoffForAttempt(base, ceiling time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	backoff := base
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if ceiling > 0 && backoff >= ceiling {
			return ceiling
		}
	}
	return backoff
}

func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
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

func isTransientNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
