package handler

import (
	"log/slog"
	"net/http"

	"fgcmatch/internal/service"

	"github.com/gin-gonic/gin"
)

type ProfileHandler struct {
	svc    *service.ProfileService
	logger *slog.Logger
}

func NewProfileHandler(svc *service.ProfileService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{svc: svc, logger: logger.With("component", "profile_handler")}
}

func (h *ProfileHandler) Get(c *gin.Context) {
	p, err := h.svc.Get(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *ProfileHandler) Update(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Bio      string `json:"bio"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.svc.UpdateProfile(c.Request.Context(), req.Username, req.Bio)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
