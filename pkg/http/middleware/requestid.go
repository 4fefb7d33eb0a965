package middleware

import (
	"strings"

	applogger "ForecastGate/pkg/logger"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ContextKeyRequestID is the echo.Context key holding the correlation id.
const ContextKeyRequestID = "request_id"

// maxRequestIDLen caps caller supplied ids so they cannot bloat logs.
const maxRequestIDLen = 128

// RequestID reuses the inbound correlation header or mints a uuid v4, and echoes it on the response.
// Caller ids longer than maxRequestIDLen are truncated.
func RequestID(header string) echo.MiddlewareFunc {
	if header == "" {
		header = echo.HeaderXRequestID
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(header)
			if len(id) > maxRequestIDLen {
				id = strings.ToValidUTF8(id[:maxRequestIDLen], "")
			}
			if id == "" {
				id = uuid.NewString()
			}
			c.Set(ContextKeyRequestID, id)
			c.SetRequest(c.Request().WithContext(applogger.WithRequestID(c.Request().Context(), id)))
			c.Response().Header().Set(header, id)
			return next(c)
		}
	}
}

// GetRequestID returns the correlation id set by RequestID.
func GetRequestID(c echo.Context) string {
	s, _ := c.Get(ContextKeyRequestID).(string)
	return s
}
