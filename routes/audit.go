package routes

import (
	"net/http"
	"strconv"

	"rag-knowledge-platform/middleware"
	"rag-knowledge-platform/utils"

	"github.com/gin-gonic/gin"
)

func SetupAuditRoutes(api *gin.RouterGroup, d Deps) {
	audit := api.Group("/audit")
	audit.Use(middleware.AdminGuard())
	audit.GET("", handleListAudit(d))
	audit.GET("/verify", handleVerifyAudit(d))
}

func handleListAudit(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
		if err != nil || limit < 1 || limit > 1000 {
			limit = 100
		}

		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		events, err := d.Audit.List(ctx, limit)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}

// handleVerifyAudit recomputes the hash chain.
func handleVerifyAudit(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		checked, brokenAt, err := d.Audit.VerifyChain(ctx)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"is_valid":  brokenAt == 0,
			"checked":   checked,
			"broken_at": brokenAt,
		})
	}
}
