package middleware

import (
	"net/http"

	"fgcmatch/internal/auth"
	"fgcmatch/internal/domain"

	"github.com/gin-gonic/gin"
)

// Sessions is the part of the session provider the guards need.
type Sessions interface {
	Require() (*auth.Session, error)
}

// SessionRequired rejects requests while nobody is signed in to the daemon
// and sets user_id and session in context.
func SessionRequired(sessions Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := sessions.Require()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "sign in required",
				"code":  domain.ErrAuthenticationRequired.Code(),
			})
			return
		}
		c.Set("user_id", s.UserID())
		c.Set("session", s)
		c.Next()
	}
}

// GetUserID returns the signed-in user ID from context (must be used after SessionRequired).
func GetUserID(c *gin.Context) string {
	return c.GetString("user_id")
}

// GetSession returns the session set by SessionRequired, or nil.
func GetSession(c *gin.Context) *auth.Session {
	v, ok := c.Get("session")
	if !ok {
		return nil
	}
	s, _ := v.(*auth.Session)
	return s
}
