package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/helgykoin/hkn_ledger/pkg/auth"
	"github.com/helgykoin/hkn_ledger/pkg/logger"
)

// ContextFrontend is the gin context key holding the authenticated front end.
const ContextFrontend = "frontend"

// FrontendAuth requires a Bearer token signed with secret. An empty secret
// disables the check, which is only allowed outside production.
func FrontendAuth(secret string, log *logger.Logger) gin.HandlerFunc {
	if secret == "" {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":       "UNAUTHORIZED",
				"message":    "Authorization header required",
				"request_id": c.GetString("request_id"),
			})
			c.Abort()
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":       "UNAUTHORIZED",
				"message":    "Invalid authorization format",
				"request_id": c.GetString("request_id"),
			})
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(tokenParts[1], secret)
		if err != nil {
			log.Warn("Rejected front-end token",
				"error", err,
				"client_ip", c.ClientIP(),
				"request_id", c.GetString("request_id"))
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":       "UNAUTHORIZED",
				"message":    "Invalid or expired token",
				"request_id": c.GetString("request_id"),
			})
			c.Abort()
			return
		}

		c.Set(ContextFrontend, claims.Frontend)
		c.Next()
	}
}
