package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(jsonFieldName)
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	switch name {
	case "-":
		return ""
	case "":
		return fld.Name
	}
	return name
}

// ReadAndValidateRequest binds the body, applies `default` tags, then runs `validate` tags.
// Malformed JSON is a 400; a body that parses but does not fit the schema is a 422.
func ReadAndValidateRequest(c echo.Context, req interface{}) *RequestError {
	if err := c.Bind(req); err != nil {
		return bindError(err)
	}

	if err := defaults.Set(req); err != nil {
		return &RequestError{Status: http.StatusBadRequest, Details: []ValidationError{{
			Code:    "ERR_DEFAULTS",
			Message: err.Error(),
		}}}
	}

	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return &RequestError{Status: http.StatusUnprocessableEntity, Details: validatorDefaultRules(err)}
	}

	return nil
}

func bindError(err error) *RequestError {
	var syn *json.SyntaxError
	if errors.As(err, &syn) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &RequestError{Status: http.StatusBadRequest, Details: []ValidationError{{
			Code:    "ERR_MALFORMED_JSON",
			Message: "request body is not valid JSON",
		}}}
	}

	var typ *json.UnmarshalTypeError
	if errors.As(err, &typ) {
		return &RequestError{Status: http.StatusUnprocessableEntity, Details: []ValidationError{{
			Code:    "ERR_TYPE",
			Field:   typ.Field,
			Message: fmt.Sprintf("%s must be %s", typ.Field, typ.Type),
		}}}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status := he.Code
		code := "ERR_INVALID_BODY"
		switch status {
		case http.StatusBadRequest:
			// decoder errors raised by custom UnmarshalJSON implementations
			status = http.StatusUnprocessableEntity
		case http.StatusRequestEntityTooLarge:
			code = "ERR_PAYLOAD_TOO_LARGE"
		default:
			code = fmt.Sprintf("ERR_HTTP_%d", status)
		}
		msg := fmt.Sprintf("%v", he.Message)
		if he.Internal != nil {
			msg = he.Internal.Error()
		}
		return &RequestError{Status: status, Details: []ValidationError{{Code: code, Message: msg}}}
	}

	return &RequestError{Status: http.StatusBadRequest, Details: []ValidationError{{
		Code:    "ERR_UNKNOWN",
		Message: err.Error(),
	}}}
}

func validatorDefaultRules(err error) []ValidationError {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		errs := make([]ValidationError, 0, len(validationErrors))
		for _, e := range validationErrors {
			errs = append(errs, ValidationError{
				Code:    "ERR_" + strings.ToUpper(e.Tag()),
				Field:   fieldPath(e),
				Message: getErrorMessage(e),
				Params:  getErrorParams(e),
			})
		}
		return errs
	}

	return []ValidationError{{
		Code:    "ERR_UNKNOWN",
		Message: err.Error(),
	}}
}

// fieldPath drops the root struct name from the namespace: "Req.items[0].series_id" -> "items[0].series_id".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func getErrorMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		if fe.Type().Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		if k := fe.Type().Kind(); k == reflect.Slice || k == reflect.Array {
			return fmt.Sprintf("%s must contain at least %s items", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if fe.Type().Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		if k := fe.Type().Kind(); k == reflect.Slice || k == reflect.Array {
			return fmt.Sprintf("%s must contain at most %s items", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

func getErrorParams(fe validator.FieldError) map[string]interface{} {
	params := make(map[string]interface{})

	switch fe.Tag() {
	case "min", "gte":
		params["min"] = fe.Param()
	case "max", "lte":
		params["max"] = fe.Param()
	case "gt", "lt":
		params["value"] = fe.Param()
	case "oneof":
		params["options"] = strings.Split(fe.Param(), " ")
	}

	if len(params) == 0 {
		return nil
	}
	return params
}
