package testutils

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jzx17/deadlinefetch/pkg/types"
)

// Step scripts the result of one transport call
type Step struct {
	Status int
	Header http.Header
	Body   string

	// Code makes the step fail with a *types.TransportError
	Code types.TransportCode

	// Err makes the step fail with an arbitrary error
	Err error

	// Elapse advances the transport's clock before the step returns
	Elapse time.Duration
}

// Status is a shorthand for a response step
func Status(code int, body string) Step {
	return Step{Status: code, Body: body}
}

// Failure is a shorthand for a transport error step
func Failure(code types.TransportCode) Step {
	return Step{Code: code}
}

// ScriptedTransport replays steps in order and records every request. Calls
// beyond the script fail the test.
type ScriptedTransport struct {
	clock *SleepClock

	mu       sync.Mutex
	steps    []Step
	requests []*types.Request
	tb       testing.TB
}

// NewScriptedTransport creates a transport that replays steps. clock may be
// nil when no step sets Elapse.
func NewScriptedTransport(tb testing.TB, clock *SleepClock, steps ...Step) *ScriptedTransport {
	return &ScriptedTransport{tb: tb, clock: clock, steps: steps}
}

// Do implements types.Transport
func (s *ScriptedTransport) Do(ctx context.Context, req *types.Request) (*types.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, cloneRequest(req))
	idx := len(s.requests) - 1
	if idx >= len(s.steps) {
		s.mu.Unlock()
		s.tb.Helper()
		s.tb.Errorf("unexpected call %d to scripted transport (%d steps)", idx+1, len(s.steps))
		return nil, fmt.Errorf("script exhausted")
	}
	step := s.steps[idx]
	s.mu.Unlock()

	if step.Elapse > 0 && s.clock != nil {
		s.clock.Elapse(step.Elapse)
	}

	if err := ctx.Err(); err != nil {
		return nil, &types.TransportError{Code: types.CodeCanceled, Method: req.Method, URL: req.URL, Err: err}
	}

	switch {
	case step.Err != nil:
		return nil, step.Err
	case step.Code != "":
		return nil, &types.TransportError{Code: step.Code, Method: req.Method, URL: req.URL}
	}

	header := step.Header
	if header == nil {
		header = http.Header{}
	}
	return &types.Response{StatusCode: step.Status, Header: header, Body: []byte(step.Body)}, nil
}

// Requests returns copies of every request received so far
func (s *ScriptedTransport) Requests() []*types.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Calls returns the number of requests received so far
func (s *ScriptedTransport) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func cloneRequest(req *types.Request) *types.Request {
	c := *req
	c.Header = req.Header.Clone()
	if req.Body != nil {
		c.Body = append([]byte(nil), req.Body...)
	}
	return &c
}
