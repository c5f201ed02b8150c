package deadline

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// Parse reads the wire form of a deadline. ok is false when the value is
// empty, not an integer, or not positive; callers treat that as "no deadline".
func Parse(value string) (Deadline, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Deadline{}, false
	}

	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ms <= 0 {
		return Deadline{}, false
	}
	return FromEpochMillis(ms), true
}

// FromHeader reads the deadline header; absent or unparseable values yield None
func FromHeader(h http.Header) Deadline {
	if h == nil {
		return Deadline{}
	}
	d, _ := Parse(h.Get(HeaderName))
	return d
}

// Inject writes d into h. Unset deadlines leave h untouched.
func Inject(h http.Header, d Deadline) {
	if h == nil || !d.IsSet() {
		return
	}
	h.Set(HeaderName, d.HeaderValue())
}

type contextKey struct{}

// WithContext stores d on ctx so request handlers can hand it to the client explicitly
func WithContext(ctx context.Context, d Deadline) context.Context {
	return context.WithValue(ctx, contextKey{}, d)
}

// FromContext returns the deadline stored by WithContext, None when absent
func FromContext(ctx context.Context) Deadline {
	if ctx == nil {
		return Deadline{}
	}
	if d, ok := ctx.Value(contextKey{}).(Deadline); ok {
		return d
	}
	return Deadline{}
}
