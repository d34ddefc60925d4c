package middleware

import (
	"net/http"

	"fgcmatch/internal/domain"

	"github.com/gin-gonic/gin"
)

// AdminRequired checks that the signed-in user carries the admin role.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := GetSession(c)
		if s == nil || !s.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "admin access required",
				"code":  domain.ErrForbidden.Code(),
			})
			return
		}
		c.Next()
	}
}
