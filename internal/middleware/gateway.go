package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"ForecastGate/internal/observability"
	"ForecastGate/internal/service/access"
	"ForecastGate/internal/service/identity"
	"ForecastGate/internal/service/ratelimit"
	xhttp "ForecastGate/pkg/http"
	applogger "ForecastGate/pkg/logger"
)

// ContextKeyIdentity is the echo.Context key holding the resolved caller identity.
const ContextKeyIdentity = "identity"

// ForbiddenMessage never names the trusted callers.
const ForbiddenMessage = "caller is not permitted"

// Gateway runs the pre-handler stages of the request pipeline.
type Gateway struct {
	resolver *identity.Resolver
	gate     *access.Gate
	limiter  ratelimit.Limiter
	sink     *observability.Sink
	header   string
	log      *applogger.Logger
}

func NewGateway(
	resolver *identity.Resolver,
	gate *access.Gate,
	limiter ratelimit.Limiter,
	sink *observability.Sink,
	identityHeader string,
	log *applogger.Logger,
) *Gateway {
	if identityHeader == "" {
		identityHeader = "X-Container-Name"
	}
	if log == nil {
		log = applogger.NewNop()
	}
	if sink == nil {
		sink = observability.NewSink(log, nil, nil)
	}
	return &Gateway{
		resolver: resolver,
		gate:     gate,
		limiter:  limiter,
		sink:     sink,
		header:   identityHeader,
		log:      log,
	}
}

// Middlewares returns identity, access and admission in pipeline order.
func (g *Gateway) Middlewares() []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{g.Identity(), g.Access(), g.Admission()}
}

// Identity resolves the caller and stores it on the request context. Exempt paths skip
// the lookup.
func (g *Gateway) Identity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if access.IsExempt(req.URL.Path) {
				return next(c)
			}
			id := g.resolver.Resolve(req.Context(), req.Header.Get(g.header), req.RemoteAddr)
			c.Set(ContextKeyIdentity, id)
			c.SetRequest(req.WithContext(applogger.WithIdentity(req.Context(), id)))
			return next(c)
		}
	}
}

func (g *Gateway) Access() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if access.IsExempt(path) {
				return next(c)
			}
			start := time.Now()
			id, _ := c.Get(ContextKeyIdentity).(string)
			if g.gate.Authorize(id, path) == access.Allow {
				return next(c)
			}
			g.sink.Emit(c.Request().Context(), observability.Event{
				Stage:   observability.StageAccess,
				Outcome: observability.OutcomeDenied,
				Route:   path,
				Status:  http.StatusForbidden,
				Elapsed: time.Since(start),
				Code:    "ERR_FORBIDDEN",
			})
			return xhttp.AppErrorResponse(c, xhttp.ForbiddenError(ForbiddenMessage))
		}
	}
}

func (g *Gateway) Admission() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			if access.IsExempt(path) {
				return next(c)
			}
			start := time.Now()
			id, _ := c.Get(ContextKeyIdentity).(string)
			// a backend error already admitted the request; the limiter logged it
			ok, _ := g.limiter.Allow(c.Request().Context(), id)
			if ok {
				return next(c)
			}
			g.sink.Emit(c.Request().Context(), observability.Event{
				Stage:   observability.StageAdmission,
				Outcome: observability.OutcomeLimited,
				Route:   path,
				Status:  http.StatusTooManyRequests,
				Elapsed: time.Since(start),
				Code:    "ERR_RATE_LIMITED",
			})
			c.Response().Header().Set("Retry-After", "60")
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limit exceeded"))
		}
	}
}
