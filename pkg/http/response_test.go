package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Status  int        `json:"status"`
	Message string     `json:"message"`
	Data    []AppError `json:"data"`
}

func serve(t *testing.T, h echo.HandlerFunc, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler
	e.POST("/x", h)
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, req)
	var env envelope
	_ = json.Unmarshal(rr.Body.Bytes(), &env)
	return rr, env
}

func TestErrorHandler_MapsAppAndEchoErrors(t *testing.T) {
	rr, env := serve(t, func(echo.Context) error {
		return UnprocessableError("ERR_OHLC_INVALID", "candles[1]", "high below low")
	}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Len(t, env.Data, 1)
	assert.Equal(t, "candles[1]", env.Data[0].Field)

	rr, env = serve(t, func(echo.Context) error {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge)
	}, "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, "ERR_PAYLOAD_TOO_LARGE", env.Data[0].Code)

	rr, env = serve(t, func(echo.Context) error {
		return InternalError("prediction failed").WithError(errors.New("engine exploded"))
	}, "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "exploded")
	assert.Equal(t, "ERR_INTERNAL", env.Data[0].Code)
}

type bindTarget struct {
	Name  string `json:"name" validate:"required,max=4"`
	Count int    `json:"count" default:"3" validate:"min=1"`
}

func TestReadAndValidateRequest(t *testing.T) {
	var got bindTarget
	h := func(c echo.Context) error {
		got = bindTarget{}
		if rerr := ReadAndValidateRequest(c, &got); rerr != nil {
			return ValidationErrorResponse(c, rerr)
		}
		return JSONResponse(c, http.StatusOK, got)
	}

	rr, _ := serve(t, h, `{"name":"ab"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 3, got.Count)

	rr, _ = serve(t, h, `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = serve(t, h, `{"name":7}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var details struct {
		Data []ValidationError `json:"data"`
	}
	rr, _ = serve(t, h, `{"name":"toolong"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &details))
	require.Len(t, details.Data, 1)
	assert.Equal(t, "ERR_MAX", details.Data[0].Code)
	assert.Equal(t, "name", details.Data[0].Field)
}
