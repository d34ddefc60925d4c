package handler

import (
	"log/slog"
	"net/http"

	"fgcmatch/internal/service"

	"github.com/gin-gonic/gin"
)

type MatchHandler struct {
	svc    *service.MatchService
	logger *slog.Logger
}

func NewMatchHandler(svc *service.MatchService, logger *slog.Logger) *MatchHandler {
	return &MatchHandler{svc: svc, logger: logger.With("component", "match_handler")}
}

func (h *MatchHandler) ListOpen(c *gin.Context) {
	list, err := h.svc.ListOpen(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": list})
}

func (h *MatchHandler) ListMine(c *gin.Context) {
	list, err := h.svc.ListMine(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": list})
}

func (h *MatchHandler) Suggested(c *gin.Context) {
	list, err := h.svc.Suggested(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": list})
}

func (h *MatchHandler) Get(c *gin.Context) {
	m, err := h.svc.GetMatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Create handles POST /matches. Validation lives in the service so the
// same rules hold for every caller.
func (h *MatchHandler) Create(c *gin.Context) {
	var req service.CreateMatchParams
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.CreateMatch(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *MatchHandler) Accept(c *gin.Context) {
	if err := h.svc.AcceptMatch(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *MatchHandler) Join(c *gin.Context) {
	var req struct {
		RoomCode string `json:"room_code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id, err := h.svc.JoinByRoomCode(c.Request.Context(), req.RoomCode)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"match_id": id})
}

func (h *MatchHandler) Start(c *gin.Context) {
	m, err := h.svc.StartMatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Complete handles POST /matches/:id/complete: the caller claims the win.
func (h *MatchHandler) Complete(c *gin.Context) {
	var stats service.ClientStats
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&stats); err != nil {
			badRequest(c, err)
			return
		}
	}
	res, err := h.svc.CompleteMatch(c.Request.Context(), c.Param("id"), stats)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *MatchHandler) Cancel(c *gin.Context) {
	if err := h.svc.CancelMatch(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *MatchHandler) Leave(c *gin.Context) {
	if err := h.svc.ApplyLeavePenalty(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
