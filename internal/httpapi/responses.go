package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type envelope struct {
	Success bool              `json:"success"`
	Data    any               `json:"data,omitempty"`
	Error   *errorBody        `json:"error,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type errorBody struct {
	Message string `json:"message"`
}

func success(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func fail(c echo.Context, status int, message string, fields map[string]string) error {
	return c.JSON(status, envelope{
		Success: false,
		Error:   &errorBody{Message: message},
		Fields:  fields,
	})
}

func failValidation(c echo.Context, fields map[string]string) error {
	return fail(c, http.StatusBadRequest, "Validation failed", fields)
}

func failNotFound(c echo.Context, message string) error {
	return fail(c, http.StatusNotFound, message, nil)
}

func internalError(c echo.Context, message string) error {
	return fail(c, http.StatusInternalServerError, message, nil)
}
