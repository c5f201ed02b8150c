package retry

import (
	"net/http"

	"github.com/jzx17/deadlinefetch/pkg/types"
)

var retryableStatus = map[int]struct{}{
	http.StatusTooManyRequests:    {},
	http.StatusBadGateway:         {},
	http.StatusServiceUnavailable: {},
	http.StatusGatewayTimeout:     {},
}

var retryableCodes = map[types.TransportCode]struct{}{
	types.CodeAborted:         {},
	types.CodeTimedOut:        {},
	types.CodeRefused:         {},
	types.CodeReset:           {},
	types.CodeNotFound:        {},
	types.CodeDNSAgain:        {},
	types.CodeNetUnreachable:  {},
	types.CodeHostUnreachable: {},
	types.CodeBrokenPipe:      {},
	types.CodeNetwork:         {},
}

// IsRetryableMethod reports whether requests with this method may be repeated.
// Only GET qualifies; everything else is attempted once.
func IsRetryableMethod(method string) bool {
	return method == "" || method == http.MethodGet
}

// IsRetryableStatus reports whether an HTTP status denotes a transient failure
func IsRetryableStatus(status int) bool {
	_, ok := retryableStatus[status]
	return ok
}

// IsRetryableCode reports whether a transport code denotes a transient failure
func IsRetryableCode(code types.TransportCode) bool {
	_, ok := retryableCodes[code]
	return ok
}

// Classify decides whether a failed attempt may be retried. A record with a
// status is judged by its status, otherwise by its transport code.
func Classify(method string, rec types.ErrorRecord) bool {
	if !IsRetryableMethod(method) {
		return false
	}
	if rec.StatusCode != 0 {
		return IsRetryableStatus(rec.StatusCode)
	}
	if rec.Code != "" {
		return IsRetryableCode(rec.Code)
	}
	return false
}
