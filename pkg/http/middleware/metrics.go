package middleware

import (
	"strconv"
	"time"

	applogger "ForecastGate/pkg/logger"

	"github.com/labstack/echo/v4"
)

// HTTPRecorder receives one observation per request.
type HTTPRecorder interface {
	ObserveRequest(route, status string, elapsed time.Duration)
	IncInFlight(route string)
	DecInFlight(route string)
}

// Metrics records request count and latency labelled by the route template, never the raw URL.
// Requests slower than slowThreshold are logged as warnings.
func Metrics(rec HTTPRecorder, l *applogger.Logger, slowThreshold time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := routeLabel(c)
			rec.IncInFlight(route)
			start := time.Now()

			if err := next(c); err != nil {
				c.Error(err)
			}

			elapsed := time.Since(start)
			status := c.Response().Status
			rec.DecInFlight(route)
			rec.ObserveRequest(route, strconv.Itoa(status), elapsed)

			if l != nil && slowThreshold > 0 && elapsed >= slowThreshold {
				l.Warn("http request slow",
					applogger.String("request_id", GetRequestID(c)),
					applogger.String("route", route),
					applogger.Int("status", status),
					applogger.Duration("duration_ms", elapsed),
				)
			}
			return nil
		}
	}
}

func routeLabel(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}
