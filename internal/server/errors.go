package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/unitreviews/backend/internal/apperr"
	"go.uber.org/zap"
)

// statusFor maps an error kind onto an HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindExternalService:
		return http.StatusBadGateway
	case apperr.KindTransactionAborted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": reason, "code": op.reason}. Server-side
// failures are logged; client errors are not.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	reason := "internal_error"
	code := "server.internal_error"
	if classified, ok := apperr.As(err); ok {
		reason = classified.Reason
		code = classified.Code()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err))
		if status == http.StatusInternalServerError {
			reason = "internal_error"
		}
	}
	c.JSON(status, gin.H{"error": reason, "code": code})
}

func badRequest(c *gin.Context, reason string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": reason, "code": "server." + reason})
}
