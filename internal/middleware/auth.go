package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/filevault-gateway/internal/auth"
	"github.com/filevault-gateway/internal/models"
)

const (
	identityKey = "identity"
	claimsKey   = "claims"
)

// Denylist reports revoked session tokens by token ID.
type Denylist interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// AuthMiddleware resolves the Bearer token into an Identity and stores it on
// the request context. Requests without a valid, unrevoked token stop here.
func AuthMiddleware(tokens *auth.TokenIssuer, denylist Denylist, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			unauthorized(c, "authentication required")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

		claims, err := tokens.ValidateToken(token)
		if err != nil {
			unauthorized(c, "invalid or expired token")
			return
		}

		identity, err := claims.Identity()
		if err != nil {
			unauthorized(c, "invalid or expired token")
			return
		}

		if denylist != nil {
			revoked, err := denylist.IsRevoked(c.Request.Context(), claims.ID)
			if err != nil {
				logger.WithError(err).Error("failed to check token revocation")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
				return
			}
			if revoked {
				unauthorized(c, "session has been logged out")
				return
			}
		}

		c.Set(identityKey, identity)
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="filevault"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

// GetIdentity returns the identity set by AuthMiddleware.
func GetIdentity(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return models.Identity{}, false
	}
	identity, ok := v.(models.Identity)
	return identity, ok
}

// GetClaims returns the token claims set by AuthMiddleware.
func GetClaims(c *gin.Context) (*auth.JWTClaims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.JWTClaims)
	return claims, ok
}

func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowedOrigin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Type, Content-Disposition")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
