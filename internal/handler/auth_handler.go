package handler

import (
	"log/slog"
	"net/http"
	"time"

	"fgcmatch/internal/auth"
	"fgcmatch/internal/models"
	"fgcmatch/pkg/backend"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	provider *auth.Provider
	logger   *slog.Logger
}

func NewAuthHandler(provider *auth.Provider, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{provider: provider, logger: logger.With("component", "auth_handler")}
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type sessionView struct {
	State     string       `json:"state"`
	User      *models.User `json:"user,omitempty"`
	IsAdmin   bool         `json:"is_admin"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
}

func viewOf(state auth.State, s *auth.Session) sessionView {
	v := sessionView{State: state.String()}
	if s != nil {
		u := s.User
		v.User = &u
		v.IsAdmin = s.IsAdmin()
		exp := s.ExpiresAt
		v.ExpiresAt = &exp
	}
	return v
}

// Session handles GET /auth/session. Tokens never leave the daemon.
func (h *AuthHandler) Session(c *gin.Context) {
	c.JSON(http.StatusOK, viewOf(h.provider.State(), h.provider.Current()))
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.provider.SignInWithPassword(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(auth.StateActive, s))
}

func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.provider.SignOut(c.Request.Context()); err != nil {
		h.logger.Warn("remote sign out failed", "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// OAuthStart handles GET /auth/oauth/:provider and returns the consent URL
// for the UI to open.
func (h *AuthHandler) OAuthStart(c *gin.Context) {
	url, state, err := h.provider.SignInWithOAuth(c.Param("provider"), c.Query("redirect_to"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "state": state})
}

// OAuthCallback handles GET /auth/callback?code=&state= after the consent screen.
func (h *AuthHandler) OAuthCallback(c *gin.Context) {
	s, err := h.provider.ExchangeOAuthCode(c.Request.Context(), c.Query("code"), c.Query("state"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(auth.StateActive, s))
}

func (h *AuthHandler) Recover(c *gin.Context) {
	var req struct {
		Email      string `json:"email" binding:"required,email"`
		RedirectTo string `json:"redirect_to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.provider.ResetPasswordForEmail(c.Request.Context(), req.Email, req.RedirectTo); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// UpdateUser handles PATCH /auth/user (email, password or metadata).
func (h *AuthHandler) UpdateUser(c *gin.Context) {
	var req backend.UserAttributes
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.provider.UpdateUser(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

func (h *AuthHandler) ListFactors(c *gin.Context) {
	factors, err := h.provider.ListFactors(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"factors": factors})
}

func (h *AuthHandler) EnrollFactor(c *gin.Context) {
	var req struct {
		FriendlyName string `json:"friendly_name"`
	}
	_ = c.ShouldBindJSON(&req)
	enrollment, err := h.provider.EnrollTOTP(c.Request.Context(), req.FriendlyName)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, enrollment)
}

func (h *AuthHandler) ChallengeFactor(c *gin.Context) {
	ch, err := h.provider.ChallengeFactor(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

func (h *AuthHandler) VerifyFactor(c *gin.Context) {
	var req struct {
		ChallengeID string `json:"challenge_id" binding:"required"`
		Code        string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.provider.VerifyFactor(c.Request.Context(), c.Param("id"), req.ChallengeID, req.Code)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(auth.StateActive, s))
}

func (h *AuthHandler) UnenrollFactor(c *gin.Context) {
	if err := h.provider.UnenrollFactor(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
