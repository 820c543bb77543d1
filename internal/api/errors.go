// Package api's error mapping replaces the teacher's substring-matching
// mapServiceError (internal/api/errors.go, strings.Contains(err.Error(),
// "not found")) with internal/apperr's typed Kind checked via errors.As —
// the richer 8-kind taxonomy with structured Details/RetryAfterMs this
// spec requires can't be expressed by string matching (spec §7).
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/shipyard/sandboxd/internal/apperr"
)

// errorResponse is the JSON error envelope (spec §6): {"error": {"code",
// "message", "details"}}.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code         string         `json:"code"`
	Message      string         `json:"message"`
	Details      map[string]any `json:"details,omitempty"`
	RetryAfterMs int            `json:"retry_after_ms,omitempty"`
}

// writeError maps err to the HTTP status + JSON envelope spec §7 assigns
// its Kind, and aborts the gin context.
func writeError(c *gin.Context, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: errorBody{
			Code:    "internal_error",
			Message: err.Error(),
		}})
		return
	}

	status, code := statusForKind(ae.Kind)
	if status == http.StatusServiceUnavailable && ae.RetryAfterMs > 0 {
		c.Header("Retry-After-Ms", strconv.Itoa(ae.RetryAfterMs))
	}
	c.JSON(status, errorResponse{Error: errorBody{
		Code:         code,
		Message:      ae.Message,
		Details:      ae.Details,
		RetryAfterMs: ae.RetryAfterMs,
	}})
}

// writeErrorCode writes a fixed code/status pair not carried by an
// *apperr.Error — used for the TTL-specific 409s spec §6 names
// (sandbox_ttl_infinite, sandbox_expired).
func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

func statusForKind(k apperr.Kind) (int, string) {
	switch k {
	case apperr.KindNotFound:
		return http.StatusNotFound, "not_found"
	case apperr.KindValidation:
		return http.StatusBadRequest, "validation"
	case apperr.KindConflict:
		return http.StatusConflict, "conflict"
	case apperr.KindSessionNotReady:
		return http.StatusServiceUnavailable, "session_not_ready"
	case apperr.KindCapabilityNotSupported:
		return http.StatusBadRequest, "capability_not_supported"
	case apperr.KindDriverError:
		return http.StatusInternalServerError, "driver_error"
	case apperr.KindRuntimeError:
		return http.StatusBadGateway, "runtime_error"
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
