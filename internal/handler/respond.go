package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"fgcmatch/internal/domain"

	"github.com/gin-gonic/gin"
)

// statusOf maps an error kind to the HTTP status the UI sees.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrAuthenticationRequired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInvalidParameters):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrRequestInFlight):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrReconciliationGap):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrNetwork):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": msg, "code": kind}. Unclassified failures are
// logged and answered with a generic message.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status := statusOf(err)
	code := "internal"
	msg := domain.Message(err)
	if k := domain.KindOf(err); k != nil {
		code = k.Code()
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": domain.ErrInvalidParameters.Code()})
}

func parseLimit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit < 1 || limit > max {
		return def
	}
	return limit
}
