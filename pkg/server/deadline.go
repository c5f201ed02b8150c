// Package server provides echo middleware that reads the end-to-end request
// deadline from inbound requests and makes it available to handlers.
package server

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/jzx17/deadlinefetch/pkg/deadline"
	"github.com/jzx17/deadlinefetch/pkg/logger"
	"github.com/jzx17/deadlinefetch/pkg/types"
)

// ContextKeyDeadline is the echo context key holding the inbound deadline
const ContextKeyDeadline = "request_deadline"

// DeadlineConfig configures the deadline middleware
type DeadlineConfig struct {
	// Skipper defines a function to skip the middleware
	Skipper middleware.Skipper

	// Local ignores inbound deadlines entirely. Use it for interactive tools
	// and local development, never for service-to-service traffic.
	Local bool

	// Budget stamps a deadline of now+Budget on requests that arrive without
	// one. Edge services set it; internal services leave it zero so only the
	// edge decides how long a call chain may take.
	Budget time.Duration

	// Clock is used to stamp deadlines
	Clock types.Clock

	// Logger receives a debug entry for every unparseable header value
	Logger logger.Logger
}

// DefaultDeadlineConfig is the default deadline middleware config
var DefaultDeadlineConfig = DeadlineConfig{
	Skipper: middleware.DefaultSkipper,
}

// Deadline returns middleware that parses X-Request-Deadline with the default config
func Deadline() echo.MiddlewareFunc {
	return DeadlineWithConfig(DefaultDeadlineConfig)
}

// DeadlineWithConfig returns deadline middleware with config. A missing or
// unparseable header means "no deadline"; the request is never rejected.
func DeadlineWithConfig(cfg DeadlineConfig) echo.MiddlewareFunc {
	if cfg.Skipper == nil {
		cfg.Skipper = DefaultDeadlineConfig.Skipper
	}
	if cfg.Clock == nil {
		cfg.Clock = types.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper(c) || cfg.Local {
				return next(c)
			}

			req := c.Request()
			raw := req.Header.Get(deadline.HeaderName)
			d, ok := deadline.Parse(raw)
			if !ok && raw != "" {
				cfg.Logger.Debug().
					Str("header", deadline.HeaderName).
					Str("value", raw).
					Str("path", req.URL.Path).
					Msg("ignoring unparseable request deadline")
			}
			if !d.IsSet() && cfg.Budget > 0 {
				d = deadline.In(cfg.Clock, cfg.Budget)
			}
			if !d.IsSet() {
				return next(c)
			}

			c.Set(ContextKeyDeadline, d)
			c.SetRequest(req.WithContext(deadline.WithContext(req.Context(), d)))
			return next(c)
		}
	}
}

// DeadlineFrom returns the deadline stored by the middleware, None when absent
func DeadlineFrom(c echo.Context) deadline.Deadline {
	if d, ok := c.Get(ContextKeyDeadline).(deadline.Deadline); ok {
		return d
	}
	return deadline.FromContext(c.Request().Context())
}
