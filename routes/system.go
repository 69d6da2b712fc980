package routes

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"rag-knowledge-platform/utils"

	"github.com/gin-gonic/gin"
)

func SetupSystemRoutes(api *gin.RouterGroup, d Deps) {
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	api.GET("/health/provider", handleProviderHealth(d))
	api.GET("/settings", d.Auth.RequireAuth(), handleSettings(d))
}

// handleProviderHealth answers 200 when every probed component is up and 503
// otherwise; the body is the same either way.
func handleProviderHealth(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		deep, _ := strconv.ParseBool(c.DefaultQuery("deep", "false"))

		var (
			ctx    context.Context
			cancel context.CancelFunc
		)
		if deep {
			ctx, cancel = context.WithTimeout(c.Request.Context(), d.Config.LocalTimeout)
		} else {
			ctx, cancel = utils.WithShortTimeout(c.Request.Context())
		}
		defer cancel()

		report := d.Health.HealthCheck(ctx, deep, d.Vectors)
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	}
}

func handleSettings(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := d.Config
		c.JSON(http.StatusOK, gin.H{
			"upload_max_size_mb":  cfg.MaxFileSize / (1024 * 1024),
			"chunk_size_chars":    cfg.ChunkSizeChars,
			"chunk_overlap_chars": cfg.ChunkOverlapChars,
			"rag": gin.H{
				"candidates":        cfg.RAGCandidates,
				"max_citations":     cfg.RAGMaxCitations,
				"context_max_chars": cfg.RAGContextMaxChars,
				"min_answerability": cfg.RAGMinAnswerability,
				"vector_weight":     cfg.RAGVectorWeight,
				"lexical_weight":    cfg.RAGLexicalWeight,
			},
			"local": gin.H{
				"chat_model":  cfg.OllamaChatModel,
				"embed_model": cfg.OllamaEmbedModel,
			},
			"vector_collection":    cfg.QdrantCollection,
			"rate_limit_per_min":   cfg.RateLimitPerMinute,
			"supported_extensions": []string{".pdf", ".docx", ".pptx", ".ppt"},
		})
	}
}
