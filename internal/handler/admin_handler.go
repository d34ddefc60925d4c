package handler

import (
	"log/slog"
	"net/http"

	"fgcmatch/internal/service"

	"github.com/gin-gonic/gin"
)

// AdminHandler serves the support and integrity review queues. Routes sit
// behind middleware.AdminRequired; the service checks the role again.
type AdminHandler struct {
	support *service.SupportService
	logger  *slog.Logger
}

func NewAdminHandler(support *service.SupportService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{support: support, logger: logger.With("component", "admin_handler")}
}

// Tickets handles GET /admin/tickets?status=.
func (h *AdminHandler) Tickets(c *gin.Context) {
	list, err := h.support.Queue(c.Request.Context(), c.Query("status"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": len(list)})
}

// ResolveTicket handles POST /admin/tickets/:id/resolve.
func (h *AdminHandler) ResolveTicket(c *gin.Context) {
	var req struct {
		Status string `json:"status"`
	}
	_ = c.ShouldBindJSON(&req)
	if err := h.support.ResolveTicket(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// IntegrityLogs handles GET /admin/integrity?status=.
func (h *AdminHandler) IntegrityLogs(c *gin.Context) {
	list, err := h.support.IntegrityLogs(c.Request.Context(), c.Query("status"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": len(list)})
}

// ResolveFlag handles POST /admin/integrity/:id/resolve with {"action": "ban"|"dismiss"}.
func (h *AdminHandler) ResolveFlag(c *gin.Context) {
	var req struct {
		Action string `json:"action" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.support.ResolveFlag(c.Request.Context(), c.Param("id"), req.Action); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
