package middleware

import (
	"net/http"
	"strings"

	"rag-knowledge-platform/internal/auth"
	"rag-knowledge-platform/utils"

	"github.com/gin-gonic/gin"
)

type AuthMiddleware struct {
	issuer *auth.Issuer
}

func NewAuthMiddleware(issuer *auth.Issuer) *AuthMiddleware {
	return &AuthMiddleware{issuer: issuer}
}

func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c.GetHeader("Authorization"))

		// If no header token, try access_token cookie
		if tokenString == "" {
			if cookie, err := c.Cookie("access_token"); err == nil {
				tokenString = cookie
			}
		}

		if tokenString == "" {
			utils.RespondWithUnauthorized(c, "Authentication token is required")
			c.Abort()
			return
		}

		claims, err := a.issuer.Validate(c.Request.Context(), tokenString)
		if err != nil {
			utils.RespondWithError(c, http.StatusUnauthorized, "invalid_token", "Invalid or expired token", nil)
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Set("claims", claims)

		c.Next()
	}
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// Helper function to get user ID from context
func GetUserID(c *gin.Context) string {
	return c.GetString("user_id")
}

// Helper function to get role from context
func GetRole(c *gin.Context) string {
	return c.GetString("role")
}

func GetClaims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get("claims"); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}
