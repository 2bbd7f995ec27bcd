package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"workbridge/internal/apperr"
)

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeNotFound, apperr.CodeOrphanEvent:
		return http.StatusNotFound
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeInvalidState, apperr.CodeInvalidTransition:
		return http.StatusUnprocessableEntity
	case apperr.CodeConflict:
		return http.StatusConflict
	case apperr.CodeGatewayUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a service error as JSON. Unknown errors become an opaque
// 500 so internals never leak to callers.
func writeError(c *gin.Context, err error) {
	var e *apperr.Error
	if errors.As(err, &e) {
		body := gin.H{
			"code":  string(e.Code),
			"error": e.Message,
		}
		if e.Reason != "" {
			body["reason"] = e.Reason
		}
		c.JSON(statusFor(e.Code), body)
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
