package handlers

import (
	"github.com/labstack/echo/v4"

	"sep_psp/internal/apperror"
)

// Response is the JSON envelope of every successful request.
// Failures use middleware.ErrorBody, which shares the success, message and errorCode keys.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func respond(c echo.Context, status int, message string, data interface{}) error {
	return c.JSON(status, Response{Success: true, Message: message, Data: data})
}

// bind decodes the request body into req, reporting malformed input as a validation error
func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apperror.Validation("invalid request body")
	}
	return nil
}
