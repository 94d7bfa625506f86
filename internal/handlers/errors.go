package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	domainerrors "github.com/ytakahashi/line-todo-sync/internal/errors"
)

// APIError is the JSON body of every error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorHandler renders domain errors with their code's HTTP status.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := renderError(err)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				slog.String("method", c.Request().Method),
				slog.String("path", c.Path()),
				slog.Int("status", status),
				slog.String("error", err.Error()))
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			logger.Error("failed to write error response", slog.String("error", writeErr.Error()))
		}
	}
}

func renderError(err error) (int, APIError) {
	var domainErr *domainerrors.Error
	if domainerrors.As(err, &domainErr) {
		return domainErr.HTTPStatus(), APIError{
			Code:    string(domainErr.Code),
			Message: domainErr.Message,
			Details: domainErr.Details,
		}
	}

	var httpErr *echo.HTTPError
	if domainerrors.As(err, &httpErr) {
		return httpErr.Code, APIError{
			Code:    statusToCode(httpErr.Code),
			Message: fmt.Sprint(httpErr.Message),
		}
	}

	return domainerrors.ErrInternal.HTTPStatus(), APIError{
		Code:    string(domainerrors.ErrInternal.Code),
		Message: domainerrors.ErrInternal.Message,
	}
}

func statusToCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return string(domainerrors.CodeValidation)
	case http.StatusUnauthorized:
		return string(domainerrors.CodeUnauthorized)
	case http.StatusNotFound:
		return string(domainerrors.CodeNotFound)
	default:
		return http.StatusText(status)
	}
}
