package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"medistock-system/internal/utils"
)

const identityKey = "identity"

// JWTAuth extracts the {user, hospital, role} identity from the bearer
// token and stores it on the request context. The token is trusted as-is;
// authentication lives with the external auth service that issued it.
func JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "missing bearer token",
			})
			return
		}

		claims, err := utils.ParseToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "invalid token",
			})
			return
		}

		c.Set(identityKey, claims)
		c.Next()
	}
}

// Identity returns the claims stored by JWTAuth.
func Identity(c *gin.Context) *utils.Claims {
	if v, ok := c.Get(identityKey); ok {
		if claims, ok := v.(*utils.Claims); ok {
			return claims
		}
	}
	return nil
}
