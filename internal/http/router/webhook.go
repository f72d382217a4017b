package router

import (
	"github.com/gin-gonic/gin"

	"threadline.app/processor/internal/http/handler"
)

func WebhookRouter(router *gin.RouterGroup, handler *handler.WebhookHandler) {
	router.POST("/:source", handler.Ingest)
}
