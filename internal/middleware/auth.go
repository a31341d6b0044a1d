package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/miracsucu4417/image-processing-service/internal/security"
)

const currentUserKey = "current_user"

// Auth requires a valid bearer token and exposes its claims through
// CurrentUser.
func Auth(tokens *security.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, tokenStr, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tokenStr) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_token",
				"message": "authorization header must be 'Bearer <token>'",
			})
			return
		}

		claims, err := tokens.Parse(strings.TrimSpace(tokenStr))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_token",
				"message": "token is not valid",
			})
			return
		}

		c.Set(currentUserKey, *claims)
		c.Next()
	}
}

// CurrentUser returns the claims stored by Auth.
func CurrentUser(c *gin.Context) (security.Claims, bool) {
	v, ok := c.Get(currentUserKey)
	if !ok {
		return security.Claims{}, false
	}
	claims, ok := v.(security.Claims)
	return claims, ok
}
