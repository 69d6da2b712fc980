package middleware

import (
	"net/http"
	"slices"

	"rag-knowledge-platform/internal/auth"
	"rag-knowledge-platform/utils"

	"github.com/gin-gonic/gin"
)

// RequireRole must run after RequireAuth.
func RequireRole(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := GetRole(c)
		if role == "" {
			utils.RespondWithUnauthorized(c, "User role not found")
			c.Abort()
			return
		}

		if !slices.Contains(allowedRoles, role) {
			utils.RespondWithError(c, http.StatusForbidden, "forbidden", "Insufficient permissions", gin.H{
				"required_roles": allowedRoles,
				"user_role":      role,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func AdminGuard() gin.HandlerFunc {
	return RequireRole(auth.RoleAdmin)
}

func IsAdmin(c *gin.Context) bool {
	return GetRole(c) == auth.RoleAdmin
}
