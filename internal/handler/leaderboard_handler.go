package handler

import (
	"log/slog"
	"net/http"

	"fgcmatch/internal/service"

	"github.com/gin-gonic/gin"
)

type LeaderboardHandler struct {
	svc    *service.LeaderboardService
	logger *slog.Logger
}

func NewLeaderboardHandler(svc *service.LeaderboardService, logger *slog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{svc: svc, logger: logger.With("component", "leaderboard_handler")}
}

// List handles GET /leaderboard?limit=&cursor=.
func (h *LeaderboardHandler) List(c *gin.Context) {
	board, err := h.svc.Leaderboard(c.Request.Context(), parseLimit(c, service.DefaultLeaderboardSize, service.DefaultLeaderboardSize), c.Query("cursor"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, board)
}

func (h *LeaderboardHandler) Mine(c *gin.Context) {
	entry, err := h.svc.MyRanking(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Performance handles GET /performance?player=&opponent=; player defaults
// to the signed-in user.
func (h *LeaderboardHandler) Performance(c *gin.Context) {
	perf, err := h.svc.Performance(c.Request.Context(), c.Query("player"), c.Query("opponent"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, perf)
}
