package middleware

import (
	"net/http"
	"strings"

	"pype/internal/core/domain"
	"pype/internal/core/services"

	"github.com/gin-gonic/gin"
)

const (
	ctxPeerID      = "peer_id"
	ctxDisplayName = "display_name"
)

func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set(ctxPeerID, claims.PeerID)
		c.Set(ctxDisplayName, claims.DisplayName)
		c.Next()
	}
}

func OptionalAuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			if claims, err := authService.ValidateToken(parts[1]); err == nil {
				c.Set(ctxPeerID, claims.PeerID)
				c.Set(ctxDisplayName, claims.DisplayName)
			}
		}

		c.Next()
	}
}

// PeerFromContext returns the authenticated peer id set by AuthMiddleware.
func PeerFromContext(c *gin.Context) (domain.PeerID, bool) {
	val, exists := c.Get(ctxPeerID)
	if !exists {
		return "", false
	}
	id, ok := val.(domain.PeerID)
	return id, ok
}

// RequireSelf rejects requests where the :peer_id path parameter does not
// match the authenticated peer. Peers act only on their own behalf.
func RequireSelf() gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticated, ok := PeerFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}

		if target := c.Param("peer_id"); target != "" && domain.PeerID(target) != authenticated {
			c.JSON(http.StatusForbidden, gin.H{"error": "cannot act on behalf of another peer"})
			c.Abort()
			return
		}

		c.Next()
	}
}
