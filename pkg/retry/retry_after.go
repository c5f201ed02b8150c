package retry

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HeaderRetryAfter is the server's suggested delay before the next attempt
const HeaderRetryAfter = "Retry-After"

// ParseRetryAfter reads a Retry-After value given as delta seconds or as an
// HTTP date relative to now. ok is false when the value is absent,
// unparseable, or does not yield a positive delay.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs <= 0 {
			return 0, false
		}
		if secs > int64(maxRetryAfter/time.Second) {
			return maxRetryAfter, true
		}
		return time.Duration(secs) * time.Second, true
	}

	at, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	if d := at.Sub(now); d > 0 {
		return d, true
	}
	return 0, false
}

// maxRetryAfter keeps delta seconds from overflowing time.Duration
const maxRetryAfter = 24 * time.Hour * 365

// RetryAfterFromHeader reads the Retry-After header from h
func RetryAfterFromHeader(h http.Header, now time.Time) (time.Duration, bool) {
	if h == nil {
		return 0, false
	}
	return ParseRetryAfter(h.Get(HeaderRetryAfter), now)
}
