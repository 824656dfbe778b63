package assets

import (
	"assetcore/internal/core"
	"assetcore/pkg/domain"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIError is the error body returned by every endpoint.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorEnvelope wraps APIError.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

func respondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// statusFor maps a service error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	var rv domain.RuleViolationError
	switch {
	case domain.IsLifecycleViolation(err):
		return http.StatusConflict, "lifecycle_violation"
	case errors.Is(err, core.ErrOperationInFlight):
		return http.StatusConflict, "operation_in_flight"
	case domain.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.As(err, &rv):
		return http.StatusConflict, "rule_violation"
	case errors.Is(err, core.ErrNoFileStore):
		return http.StatusNotImplemented, "files_disabled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func respondServiceError(c *gin.Context, err error) {
	status, code := statusFor(err)
	respondError(c, status, code, err)
}
