package api

import (
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"ForecastGate/internal/domain/models"
	"ForecastGate/internal/usecase"
	xhttp "ForecastGate/pkg/http"
	xlogger "ForecastGate/pkg/logger"
)

// HealthHandler serves liveness, readiness and the detailed health report.
type HealthHandler struct {
	logger    *xlogger.Logger
	uc        *usecase.ForecastUseCase
	diskPath  string
	startedAt time.Time
}

func NewHealthHandler(logger *xlogger.Logger, uc *usecase.ForecastUseCase, diskPath string) *HealthHandler {
	if diskPath == "" {
		diskPath = "/"
	}
	if logger == nil {
		logger = xlogger.NewNop()
	}
	return &HealthHandler{logger: logger, uc: uc, diskPath: diskPath, startedAt: time.Now()}
}

func (h *HealthHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/v1")
	g.GET("/healthz", h.Healthz)
	g.GET("/healthz/detailed", h.Detailed)
	g.GET("/readyz", h.Readyz)
}

func (h *HealthHandler) Healthz(c echo.Context) error {
	return xhttp.JSONResponse(c, http.StatusOK, models.HealthResponse{Status: "ok"})
}

// Readyz answers 200 only once the engine is loaded; the body is always present.
func (h *HealthHandler) Readyz(c echo.Context) error {
	res, ready := h.uc.Readiness()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	return xhttp.JSONResponse(c, status, res)
}

func (h *HealthHandler) Detailed(c echo.Context) error {
	ctx := c.Request().Context()
	res := models.DetailedHealthResponse{
		Status:        "ok",
		Timestamp:     models.NewTimestamp(time.Now()),
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
	}

	ready, ok := h.uc.Readiness()
	res.Checks.Model = models.ModelCheck{Loaded: ok, State: ready.Status, Device: ready.Device}
	if orch, err := h.uc.Orchestrator(); err == nil {
		if info, loaded := orch.Info(); loaded {
			res.Checks.Model.Version = info.ModelVersion
			res.Checks.Model.TokenizerVersion = info.TokenizerVersion
		}
	}
	if !ok {
		res.Status = "degraded"
	}

	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
			res.Checks.Memory.ProcessMB = float64(mi.RSS) / (1 << 20)
		} else {
			res.Checks.Memory.Error = err.Error()
		}
	} else {
		res.Checks.Memory.Error = err.Error()
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		res.Checks.Memory.SystemPercent = vm.UsedPercent
	} else if res.Checks.Memory.Error == "" {
		res.Checks.Memory.Error = err.Error()
	}

	res.Checks.Disk.Path = h.diskPath
	if du, err := disk.UsageWithContext(ctx, h.diskPath); err == nil {
		res.Checks.Disk.FreeGB = float64(du.Free) / (1 << 30)
		res.Checks.Disk.UsedPercent = du.UsedPercent
	} else {
		res.Checks.Disk.Error = err.Error()
		h.logger.Warn("disk usage check failed", xlogger.String("path", h.diskPath), xlogger.Error(err))
	}

	return xhttp.JSONResponse(c, http.StatusOK, res)
}
