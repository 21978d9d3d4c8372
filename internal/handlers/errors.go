package handlers

import (
	"errors"
	"net/http"

	"github.com/Skotchmaster/tasks_app/internal/service"
	"github.com/Skotchmaster/tasks_app/pkg/logging"
	"github.com/labstack/echo/v4"
)

const msgInternal = "Internal server error"

// domainError maps an expected service failure onto its HTTP status. Anything
// it does not recognise is returned as is and ends up as a 500.
func domainError(err error) error {
	status := 0
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		status = http.StatusConflict
	default:
		return err
	}
	return echo.NewHTTPError(status, service.Message(err, http.StatusText(status)))
}

// ErrorHandler renders every error as {"message": ...}. Only *echo.HTTPError
// messages reach the client; anything else is logged and answered with a
// generic 500.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := msgInternal

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if s, ok := he.Message.(string); ok && code < http.StatusInternalServerError {
			msg = s
		} else if code < http.StatusInternalServerError {
			msg = http.StatusText(code)
		}
		if code >= http.StatusInternalServerError {
			logging.FromContext(c.Request().Context()).Error("unhandled_error", "status", code, "error", err)
		}
	} else {
		logging.FromContext(c.Request().Context()).Error("unhandled_error", "status", code, "error", err)
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(code)
	} else {
		werr = c.JSON(code, echo.Map{"message": msg})
	}
	if werr != nil {
		logging.FromContext(c.Request().Context()).Error("error_response_failed", "error", werr)
	}
}
