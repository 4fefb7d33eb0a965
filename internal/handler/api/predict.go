package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"ForecastGate/internal/domain/models"
	"ForecastGate/internal/observability"
	"ForecastGate/internal/service/validation"
	"ForecastGate/internal/usecase"
	xhttp "ForecastGate/pkg/http"
	xlogger "ForecastGate/pkg/logger"
)

// PredictHandler serves the forecast endpoints.
type PredictHandler struct {
	logger *xlogger.Logger
	uc     *usecase.ForecastUseCase
	sink   *observability.Sink
}

func NewPredictHandler(logger *xlogger.Logger, uc *usecase.ForecastUseCase, sink *observability.Sink) *PredictHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	if sink == nil {
		sink = observability.NewSink(logger, nil, nil)
	}
	return &PredictHandler{logger: logger, uc: uc, sink: sink}
}

func (h *PredictHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/v1/predict")
	g.POST("/single", h.Single)
	g.POST("/batch", h.Batch)
}

func (h *PredictHandler) Single(c echo.Context) error {
	start := time.Now()
	req := &models.PredictSingleRequest{}
	if rerr := xhttp.ReadAndValidateRequest(c, req); rerr != nil {
		h.bindFailed(c, usecase.RouteSingle, rerr, start)
		return xhttp.ValidationErrorResponse(c, rerr)
	}
	res, err := h.uc.PredictSingle(c.Request().Context(), req.Series())
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.JSONResponse(c, http.StatusOK, res)
}

func (h *PredictHandler) Batch(c echo.Context) error {
	start := time.Now()
	req := &models.PredictBatchRequest{}
	if rerr := xhttp.ReadAndValidateRequest(c, req); rerr != nil {
		h.bindFailed(c, usecase.RouteBatch, rerr, start)
		return xhttp.ValidationErrorResponse(c, rerr)
	}
	res, err := h.uc.PredictBatch(c.Request().Context(), req.Series())
	if err != nil {
		return xhttp.AppErrorResponse(c, toAppError(err))
	}
	return xhttp.JSONResponse(c, http.StatusOK, res)
}

func (h *PredictHandler) bindFailed(c echo.Context, route string, rerr *xhttp.RequestError, start time.Time) {
	code := "ERR_INVALID_BODY"
	if len(rerr.Details) > 0 && rerr.Details[0].Code != "" {
		code = rerr.Details[0].Code
	}
	h.sink.Emit(c.Request().Context(), observability.Event{
		Stage:   observability.StageValidation,
		Outcome: observability.OutcomeInvalid,
		Route:   route,
		Status:  rerr.Status,
		Elapsed: time.Since(start),
		Code:    code,
	})
}

// toAppError maps use case errors onto HTTP errors. Engine causes stay in the logs.
func toAppError(err error) *xhttp.AppError {
	var verr *validation.ValidationError
	switch {
	case errors.As(err, &verr):
		app := xhttp.UnprocessableError(verr.Code, verr.Path(), verr.Message)
		if verr.SeriesID != "" {
			app.WithParam("series_id", verr.SeriesID)
		}
		if verr.Index != nil {
			app.WithParam("index", *verr.Index)
		}
		return app
	case errors.Is(err, usecase.ErrBatchParamsMismatch):
		var bm *usecase.BatchMismatchError
		if errors.As(err, &bm) {
			return xhttp.UnprocessableError("ERR_BATCH_SHAPE", fmt.Sprintf("items[%d]", bm.Index),
				"all batch items must share the same "+bm.Field).
				WithParam("series_id", bm.SeriesID).
				WithParam("index", bm.Index)
		}
		return xhttp.UnprocessableError("ERR_BATCH_SHAPE", "items", "all batch items must use identical overrides")
	case errors.Is(err, usecase.ErrNotReady):
		return xhttp.ServiceUnavailableError("ERR_NOT_READY", "model is not ready")
	case errors.Is(err, usecase.ErrPoolSaturated):
		return xhttp.ServiceUnavailableError("ERR_OVERLOADED", "inference capacity exhausted, retry later")
	case errors.Is(err, usecase.ErrTimeout):
		return xhttp.GatewayTimeoutError("prediction timed out")
	case errors.Is(err, context.Canceled):
		return xhttp.NewAppError("ERR_CANCELLED", "", "request cancelled", 499).WithError(err)
	default:
		return xhttp.InternalError("prediction failed").WithError(err)
	}
}
