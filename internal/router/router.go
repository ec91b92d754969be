package router

import (
	"net/http"

	"github.com/faridhamidi/llm-council/config"
	"github.com/faridhamidi/llm-council/internal/handler"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

func Setup(
	cfg *config.Config,
	conversationHandler *handler.ConversationHandler,
	messageHandler *handler.MessageHandler,
	settingsHandler *handler.SettingsHandler,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))
	// SSE 响应体不压缩，gzip 中间件跳过流式路径
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{`.*/message/stream$`})))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "llm-council"})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		conversations := api.Group("/conversations")
		{
			conversations.POST("", conversationHandler.Create)
			conversations.GET("", conversationHandler.List)
			conversations.GET("/trash", conversationHandler.ListTrash)
			conversations.GET("/:id", conversationHandler.Get)
			conversations.DELETE("/:id", conversationHandler.Delete)
			conversations.POST("/:id/restore", conversationHandler.Restore)
			conversations.DELETE("/:id/purge", conversationHandler.Purge)
			conversations.PUT("/:id/title", conversationHandler.UpdateTitle)
			conversations.GET("/:id/usage", conversationHandler.Usage)

			conversations.POST("/:id/message", messageHandler.Send)
			conversations.POST("/:id/message/stream", messageHandler.SendStream)
			conversations.POST("/:id/message/cancel", messageHandler.CancelStream)
		}

		settings := api.Group("/settings")
		{
			settings.GET("", settingsHandler.Get)
			settings.PUT("", settingsHandler.Update)

			presets := settings.Group("/presets")
			{
				presets.GET("", settingsHandler.ListPresets)
				presets.POST("", settingsHandler.SavePreset)
				presets.GET("/:id", settingsHandler.GetPreset)
				presets.DELETE("/:id", settingsHandler.DeletePreset)
				presets.POST("/:id/apply", settingsHandler.ApplyPreset)
			}
		}
	}

	return r
}
