package router

import (
	"github.com/gin-gonic/gin"

	"threadline.app/processor/internal/http/handler"
	"threadline.app/processor/internal/queue"
)

type RouterConfig struct {
	WebhookToken    string
	TraceHeaderName string
}

func SetupRoutes(router *gin.Engine, producer queue.Producer, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	webhookHandler := handler.NewWebhookHandler(producer, cfg.WebhookToken, cfg.TraceHeaderName)

	v1 := router.Group("/api/v1")
	{
		WebhookRouter(v1.Group("/webhooks"), webhookHandler)
	}
}
