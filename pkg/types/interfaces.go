// Package types defines the transport boundary consumed by the fetch orchestrator
package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Request is a single outbound attempt handed to a Transport
type Request struct {
	// Method is the HTTP method
	Method string

	// URL is the fully resolved request URL
	URL string

	// Header carries the outbound headers, including the propagated deadline
	Header http.Header

	// Body is the raw request payload (may be nil)
	Body []byte

	// Timeout bounds this attempt only; zero means no per-attempt limit
	Timeout time.Duration
}

// Response is what a Transport returns when the server answered at all
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is in the 2xx range
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport issues exactly one HTTP request.
//
// Implementations return a *Response for every answered request regardless of
// status code, and a *TransportError for network-layer failures. Any other
// error is treated as unexpected and is never retried.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts an ordinary function to the Transport interface
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

// Do calls f(ctx, req)
func (f TransportFunc) Do(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// TransportCode is a machine-readable network failure code
type TransportCode string

const (
	CodeAborted         TransportCode = "ECONNABORTED"
	CodeTimedOut        TransportCode = "ETIMEDOUT"
	CodeRefused         TransportCode = "ECONNREFUSED"
	CodeReset           TransportCode = "ECONNRESET"
	CodeNotFound        TransportCode = "ENOTFOUND"
	CodeDNSAgain        TransportCode = "EAI_AGAIN"
	CodeNetUnreachable  TransportCode = "ENETUNREACH"
	CodeHostUnreachable TransportCode = "EHOSTUNREACH"
	CodeBrokenPipe      TransportCode = "EPIPE"
	CodeNetwork         TransportCode = "ERR_NETWORK"
	CodeCanceled        TransportCode = "ERR_CANCELED"
	CodeTLS             TransportCode = "ERR_TLS"
)

// IsTimeout reports whether the code denotes an attempt that ran out of time
func (c TransportCode) IsTimeout() bool {
	return c == CodeTimedOut || c == CodeAborted
}

// TransportError is a network-layer failure with a machine-readable code
type TransportError struct {
	Code   TransportCode
	Method string
	URL    string
	Err    error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Code)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Method, e.URL, e.Code, e.Err)
}

// Unwrap returns the underlying error
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a timeout, mirroring net.Error
func (e *TransportError) Timeout() bool {
	return e.Code.IsTimeout()
}

// AsTransportError extracts a *TransportError from an error chain
func AsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
