package middleware

import (
	"time"

	applogger "ForecastGate/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs one line per request with the correlation id and latency.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			err := next(c)
			if err != nil {
				// let echo's error handler commit the response so the status below is real
				c.Error(err)
			}

			fields := []applogger.Field{
				applogger.String("request_id", GetRequestID(c)),
				applogger.String("method", req.Method),
				applogger.String("path", req.URL.Path),
				applogger.Int("status", c.Response().Status),
				applogger.Duration("latency_ms", time.Since(start)),
				applogger.String("remote_addr", req.RemoteAddr),
			}
			if id := applogger.Identity(c.Request().Context()); id != "" {
				fields = append(fields, applogger.String("identity", id))
			}
			if c.Response().Status >= 500 {
				l.Error("request completed", fields...)
			} else {
				l.Info("request completed", fields...)
			}
			return nil
		}
	}
}
