package labeling

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"time"
)

// classify maps an attempt error onto an error code and whether another
// attempt may help. Deadline errors count as timeouts.
func classify(err error) (code string, retryable, timedOut bool) {
	if err == nil {
		return "", false, false
	}
	var se *StrategyError
	if errors.As(err, &se) {
		return se.Code, se.Retryable, errors.Is(err, context.DeadlineExceeded) || se.Code == CodeTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout, true, true
	}
	if errors.Is(err, context.Canceled) {
		return CodeCanceled, false, false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CodeTimeout, true, true
		}
		return CodeNetwork, true, false
	}
	return CodeUnknown, false, false
}

// backoff returns the capped exponential delay before attempt+1.
func backoff(base, ceiling time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling || d <= 0 {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// fullJitter draws uniformly from [0, d].
func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
