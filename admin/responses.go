package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// APIResponse is the envelope every system endpoint answers with.
type APIResponse struct {
	Data  any               `json:"data,omitempty"`
	Error *APIErrorResponse `json:"error,omitempty"`
	Meta  map[string]any    `json:"meta"`
}

// APIErrorResponse is the error part of the envelope.
type APIErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func meta() map[string]any {
	return map[string]any{"timestamp": time.Now().UTC().Format(time.RFC3339)}
}

func respond(c echo.Context, status int, data any) error {
	return c.JSON(status, APIResponse{Data: data, Meta: meta()})
}

func respondError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, APIResponse{
		Error: &APIErrorResponse{Code: code, Message: message},
		Meta:  meta(),
	})
}

// errorHandler renders echo errors in the envelope format.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	msg := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Path()).Msg("Admin request failed")
	}

	_ = respondError(c, status, statusToErrorCode(status), msg)
}

func statusToErrorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}
