package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/kmap/internal/logger"
)

// AdminToken guards admin routes with a static bearer token.
// An empty token leaves the routes open, which is only meant for local use.
func AdminToken(token string) gin.HandlerFunc {
	if token == "" {
		logger.Warn("Admin token not configured, admin routes are unauthenticated")
		return func(c *gin.Context) { c.Next() }
	}
	want := []byte(token)

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		got, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			logger.CtxWarn(c.Request.Context(), "Admin request rejected: path=%s, client_ip=%s",
				c.Request.URL.Path, c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin token required"})
			return
		}
		c.Next()
	}
}
