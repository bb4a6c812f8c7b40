package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"example.com/backstage/services/audit/internal/repository"
	"example.com/backstage/services/audit/internal/service"
)

// AccountKey is the gin context key holding the authenticated account
const AccountKey = "account"

// APIKeyAuth resolves the caller from the X-API-Key header. Unknown keys
// are reported as missing accounts so that keys cannot be probed apart
// from accounts.
func APIKeyAuth(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}

		account, err := auth.VerifyAccess(c.Request.Context(), apiKey)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no account matches the provided API key"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to verify API key"})
			return
		}

		if !account.IsActive {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account is not activated"})
			return
		}

		c.Set(AccountKey, account)
		c.Next()
	}
}

// JWTAuth resolves the caller from a bearer token
func JWTAuth(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := auth.ParseToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		account, err := auth.CurrentUser(c.Request.Context(), claims)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(AccountKey, account)
		c.Next()
	}
}
