package routes

import (
	"net/http"

	"rag-knowledge-platform/middleware"
	"rag-knowledge-platform/models"
	"rag-knowledge-platform/services"

	"github.com/gin-gonic/gin"
)

func SetupChatRoutes(api *gin.RouterGroup, d Deps) {
	chat := api.Group("/chat")
	chat.POST("",
		middleware.UserRateLimit(d.Limiter, d.Config.RateLimitPerMinute, d.Logger),
		middleware.Audit(d.auditor(), models.AuditChatQuery),
		handleChat(d))
	chat.GET("/sessions/:id/messages", handleHistory(d))
}

func handleChat(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.ChatRequest
		if !bindJSON(c, &req) {
			return
		}

		resp, err := d.Chat.Ask(c.Request.Context(), middleware.GetUserID(c), req)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		middleware.SetAuditResource(c, resp.SessionID, map[string]string{
			"outcome":        resp.Debug.Outcome,
			"chat_provider":  resp.Debug.ChatProvider,
			"embed_provider": resp.Debug.EmbedProvider,
		})
		c.JSON(http.StatusOK, resp)
	}
}

func handleHistory(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		messages, err := d.Chat.History(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "messages": messages})
	}
}
