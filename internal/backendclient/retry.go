package backendclient

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// errNoTimeLeft is returned by pause when the context deadline would pass
// before the next attempt could start.
var errNoTimeLeft = errors.New("no time left for another attempt")

// backoff spaces out repeated content requests. Retry n (1-based) waits
// base<<(n-1), capped at max, unless the server sent a Retry-After hint.
type backoff struct {
	retries int
	base    time.Duration
	max     time.Duration
}

var defaultBackoff = backoff{retries: 3, base: 100 * time.Millisecond, max: 2 * time.Second}

func (b backoff) wait(n int, hint string, now time.Time) time.Duration {
	if d, ok := retryAfter(hint, now); ok {
		return min(d, b.max)
	}
	if n < 1 {
		n = 1
	}
	if n > 32 {
		return b.max
	}
	d := b.base << (n - 1)
	if d <= 0 || d > b.max {
		return b.max
	}
	return d
}

// retryableStatus reports whether the backend may answer differently on a
// later attempt.
func retryableStatus(status int) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return true
	case status == http.StatusNotImplemented || status == http.StatusHTTPVersionNotSupported:
		return false
	default:
		return status >= 500 && status <= 599
	}
}

// retryAfter reads a Retry-After header given as delay seconds or as an
// HTTP date.
func retryAfter(header string, now time.Time) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	at, err := http.ParseTime(header)
	if err != nil {
		return 0, false
	}
	return max(at.Sub(now), 0), true
}

// pause waits d before the next attempt. It gives up straight away when ctx
// carries a deadline that d would overrun.
func pause(ctx context.Context, d time.Duration) error {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < d {
		return errNoTimeLeft
	}
	return sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
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
