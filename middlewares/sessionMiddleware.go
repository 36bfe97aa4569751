package middlewares

import (
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/shopsync_backend/config"
	"bitbucket.org/mmdatafocus/shopsync_backend/utils"
	"github.com/gin-gonic/gin"
)

// SessionMiddleware validates the operator JWT from the token header and
// seeds the request context with tenant and role. Requests without a token
// pass through unauthenticated; handlers decide what needs a session.
// A redis session entry, when present, revokes tokens before expiry.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}

		parsed, err := utils.JwtValidate(token)
		if err != nil || !parsed.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		claims, ok := parsed.Claims.(*utils.JwtCustomClaim)
		if !ok || strings.TrimSpace(claims.TenantId) == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		if revoked, exists, err := config.GetRedisValue("RevokedToken:" + token); err == nil && exists && revoked != "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetTenantIdInContext(ctx, claims.TenantId)
		ctx = utils.SetUsernameInContext(ctx, claims.Subject)
		ctx = utils.SetIsAdminInContext(ctx, claims.Role == "admin")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
