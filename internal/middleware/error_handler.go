package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"sep_psp/internal/apperror"
)

// ErrorBody is the JSON envelope of every failed request
type ErrorBody struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

// ErrorHandler renders domain errors and echo errors as ErrorBody.
// Unclassified errors become a 500 whose detail only reaches the log.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	body := ErrorBody{Message: "internal server error", ErrorCode: string(apperror.KindInternal)}

	var appErr *apperror.Error
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		code = apperror.HTTPStatus(appErr.Kind)
		body.Message = appErr.Message
		body.ErrorCode = string(appErr.Kind)
	case errors.As(err, &httpErr):
		code = httpErr.Code
		if msg, ok := httpErr.Message.(string); ok && msg != "" {
			body.Message = msg
		} else {
			body.Message = http.StatusText(code)
		}
		body.ErrorCode = errorCodeFor(code)
	}

	if code >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", code,
			"error", err)
	} else {
		slog.Debug("request rejected", "path", c.Request().URL.Path, "status", code, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}
	if err != nil {
		slog.Error("failed to write error response", "error", err)
	}
}

func errorCodeFor(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		return string(apperror.KindValidation)
	case http.StatusUnauthorized, http.StatusForbidden:
		return string(apperror.KindAuthentication)
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return string(apperror.KindNotFound)
	case http.StatusConflict:
		return string(apperror.KindConflict)
	default:
		return string(apperror.KindInternal)
	}
}
