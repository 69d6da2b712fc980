package routes

import (
	"net/http"

	"rag-knowledge-platform/middleware"
	"rag-knowledge-platform/models"
	"rag-knowledge-platform/services"
	"rag-knowledge-platform/utils"

	"github.com/gin-gonic/gin"
)

func SetupProviderRoutes(api *gin.RouterGroup, d Deps) {
	providers := api.Group("/providers")
	providers.GET("", handleGetProviders(d))
	providers.PUT("", middleware.AdminGuard(),
		middleware.Audit(d.auditor(), models.AuditProvidersUpdate), handleUpdateProviders(d))
	providers.PUT("/me",
		middleware.Audit(d.auditor(), models.AuditPreferenceSet), handleUpdatePreference(d))
}

// handleGetProviders returns the effective providers for the caller. Admins
// also get the full configuration with the API token masked.
func handleGetProviders(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		userID := middleware.GetUserID(c)
		eff, err := d.Providers.Effective(ctx, userID)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		resp := gin.H{
			"effective": gin.H{
				"chat_provider":        eff.Chat,
				"embed_provider":       eff.Embed,
				"allow_remote":         eff.AllowRemote,
				"allow_remote_context": eff.AllowRemoteContext,
			},
		}
		if middleware.IsAdmin(c) {
			cfg, err := d.Providers.Get(ctx)
			if err != nil {
				respondServiceError(c, err)
				return
			}
			resp["config"] = cfg.Masked()
		}
		c.JSON(http.StatusOK, resp)
	}
}

func handleUpdateProviders(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.ProviderConfigUpdate
		if !bindJSON(c, &req) {
			return
		}

		cfg, err := d.Providers.Update(c.Request.Context(), req)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		middleware.SetAuditResource(c, cfg.ID, map[string]string{
			"chat":  string(cfg.DefaultChatProvider),
			"embed": string(cfg.DefaultEmbedProvider),
		})
		c.JSON(http.StatusOK, cfg.Masked())
	}
}

func handleUpdatePreference(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.PreferenceUpdate
		if !bindJSON(c, &req) {
			return
		}

		userID := middleware.GetUserID(c)
		pref, err := d.Providers.UpdatePreference(c.Request.Context(), userID, req)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		middleware.SetAuditResource(c, userID, nil)
		c.JSON(http.StatusOK, pref)
	}
}
