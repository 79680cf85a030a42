// Package middleware carries the HTTP middleware for the artifact server:
// request identity, request logging, and panic recovery.
package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// RequestID assigns a request id when the client did not send one, and
// echoes it back on the response.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(RequestIDHeader)
			if rid == "" {
				rid = uuid.New().String()
			}
			c.Set(requestIDKey, rid)
			c.Response().Header().Set(RequestIDHeader, rid)
			return next(c)
		}
	}
}

// ContextRequestID returns the id set by RequestID, or "" when the
// middleware did not run.
func ContextRequestID(c echo.Context) string {
	rid, _ := c.Get(requestIDKey).(string)
	return rid
}
