package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// DataResponse writes the API envelope using statusCode for both the HTTP status and the body.
func DataResponse(c echo.Context, statusCode int, data interface{}) error {
	return c.JSON(statusCode, APIResponse{
		Status:  statusCode,
		Message: http.StatusText(statusCode),
		Data:    data,
	})
}

// JSONResponse writes a raw payload without the envelope.
func JSONResponse(c echo.Context, statusCode int, payload interface{}) error {
	return c.JSON(statusCode, payload)
}

// ValidationErrorResponse writes a binding or validation failure.
func ValidationErrorResponse(c echo.Context, err *RequestError) error {
	return DataResponse(c, err.Status, err.Details)
}

// InternalServerErrorResponse writes internal server error.
func InternalServerErrorResponse(c echo.Context) error {
	return DataResponse(c, http.StatusInternalServerError, []*AppError{InternalError("Something went wrong")})
}

// AppErrorResponse writes application error response.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return DataResponse(c, appErr.Status, []*AppError{appErr})
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return ValidationErrorResponse(c, reqErr)
	}
	return InternalServerErrorResponse(c)
}

// ErrorHandler maps errors escaping handlers and middlewares (including echo's own) onto the envelope.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		var appErr *AppError
		switch he.Code {
		case http.StatusNotFound:
			appErr = NotFoundError(msg)
		case http.StatusRequestEntityTooLarge:
			appErr = PayloadTooLargeError(msg)
		case http.StatusBadRequest:
			appErr = BadRequestError(msg)
		case http.StatusMethodNotAllowed:
			appErr = NewAppError("ERR_METHOD_NOT_ALLOWED", "", msg, he.Code)
		default:
			appErr = NewAppError(fmt.Sprintf("ERR_HTTP_%d", he.Code), "", msg, he.Code)
		}
		_ = DataResponse(c, he.Code, []*AppError{appErr})
		return
	}
	_ = AppErrorResponse(c, err)
}
