package server

import (
	"errors"
	"net/http"

	"github.com/artemis/migrationctl/internal/migerr"
	"github.com/gin-gonic/gin"
)

// errorEnvelope matches spec §4.I's consistent error shape:
// {error:{code, message, type, details?}}.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Details interface{} `json:"details,omitempty"`
}

const (
	errTypeHTTP   = "http_error"
	errTypeServer = "server_error"
)

// writeError maps a typed migerr error (or any error) to an HTTP status and
// the envelope above.
func writeError(c *gin.Context, err error) {
	status, code, errType := classifyError(err)
	c.JSON(status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: err.Error(),
		Type:    errType,
	}})
}

func classifyError(err error) (status int, code string, errType string) {
	var notFound *migerr.NotFoundError
	var invalidState *migerr.InvalidStateError
	var auth *migerr.AuthError
	var rateLimited *migerr.RateLimitedError
	var validation *migerr.ValidationError
	var configuration *migerr.ConfigurationError
	var cancelled *migerr.CancelledError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, "not_found", errTypeHTTP
	case errors.As(err, &invalidState):
		return http.StatusConflict, "invalid_state", errTypeHTTP
	case errors.As(err, &auth):
		return http.StatusUnauthorized, "unauthorized", errTypeHTTP
	case errors.As(err, &rateLimited):
		return http.StatusTooManyRequests, "rate_limited", errTypeHTTP
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity, "validation_failed", errTypeHTTP
	case errors.As(err, &configuration):
		return http.StatusBadRequest, "bad_config", errTypeHTTP
	case errors.As(err, &cancelled):
		return http.StatusConflict, "cancelled", errTypeHTTP
	default:
		return http.StatusInternalServerError, "internal_error", errTypeServer
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorEnvelope{Error: errorBody{
		Code: "bad_request", Message: message, Type: errTypeHTTP,
	}})
}

func forbidden(c *gin.Context, message string) {
	c.JSON(http.StatusForbidden, errorEnvelope{Error: errorBody{
		Code: "forbidden", Message: message, Type: errTypeHTTP,
	}})
}
