// Package testutils provides fakes and helpers shared by the package tests
package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jzx17/deadlinefetch/pkg/types"
)

// DefaultTimeout bounds every test context
const DefaultTimeout = 5 * time.Second

// Context returns a context that is canceled when the test ends or after DefaultTimeout
func Context(tb testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	tb.Cleanup(cancel)
	return ctx
}

// RequireKind asserts that err is a terminal fetch error of the given kind and returns it
func RequireKind(tb testing.TB, err error, kind types.ErrorKind) types.FetchError {
	tb.Helper()
	require.Error(tb, err)

	fe, ok := err.(types.FetchError)
	require.Truef(tb, ok, "error %T (%v) is not a FetchError", err, err)
	require.Equalf(tb, kind, fe.Kind(), "unexpected kind for %v", err)
	return fe
}
