package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/jzx17/deadlinefetch/pkg/types"
)

// HTTPTransport is the default net/http Transport. It makes exactly one
// request per Do; the client's own redirect policy still applies.
type HTTPTransport struct {
	client *http.Client
}

var _ types.Transport = (*HTTPTransport)(nil)

// NewHTTPTransport wraps hc; nil uses a fresh http.Client with no overall timeout
func NewHTTPTransport(hc *http.Client) *HTTPTransport {
	if hc == nil {
		hc = &http.Client{}
	}
	return &HTTPTransport{client: hc}
}

// Do implements types.Transport
func (t *HTTPTransport) Do(ctx context.Context, req *types.Request) (*types.Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	if req.Header != nil {
		hreq.Header = req.Header.Clone()
	}

	resp, err := t.client.Do(hreq)
	if err != nil {
		return nil, transportError(ctx, req, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, req, err)
	}

	return &types.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       payload,
	}, nil
}

// transportError wraps err in a *types.TransportError when it maps to a
// known code; anything else is returned unchanged and will not be retried.
func transportError(ctx context.Context, req *types.Request, err error) error {
	code, ok := CodeOf(ctx, err)
	if !ok {
		return err
	}
	return &types.TransportError{Code: code, Method: req.Method, URL: req.URL, Err: err}
}

var errnoCodes = []struct {
	errno syscall.Errno
	code  types.TransportCode
}{
	{syscall.ECONNREFUSED, types.CodeRefused},
	{syscall.ECONNRESET, types.CodeReset},
	{syscall.ECONNABORTED, types.CodeAborted},
	{syscall.ETIMEDOUT, types.CodeTimedOut},
	{syscall.ENETUNREACH, types.CodeNetUnreachable},
	{syscall.EHOSTUNREACH, types.CodeHostUnreachable},
	{syscall.EPIPE, types.CodeBrokenPipe},
}

// CodeOf maps a net/http client error to a transport code. ctx is the
// attempt context; its expiry turns any failure into a timeout.
func CodeOf(ctx context.Context, err error) (types.TransportCode, bool) {
	if err == nil {
		return "", false
	}

	if errors.Is(err, context.DeadlineExceeded) || (ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return types.CodeTimedOut, true
	}
	if errors.Is(err, context.Canceled) {
		return types.CodeCanceled, true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return types.CodeNotFound, true
		}
		if dnsErr.IsTimeout || dnsErr.IsTemporary {
			return types.CodeDNSAgain, true
		}
		return types.CodeNotFound, true
	}

	for _, e := range errnoCodes {
		if errors.Is(err, e.errno) {
			return e.code, true
		}
	}

	var (
		certErr      *tls.CertificateVerificationError
		recordErr    tls.RecordHeaderError
		authorityErr x509.UnknownAuthorityError
		hostErr      x509.HostnameError
	)
	if errors.As(err, &certErr) || errors.As(err, &recordErr) ||
		errors.As(err, &authorityErr) || errors.As(err, &hostErr) {
		return types.CodeTLS, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.CodeTimedOut, true
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return types.CodeReset, true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return types.CodeNetwork, true
	}
	return "", false
}
