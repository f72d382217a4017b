package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"threadline.app/processor/internal/domain"
	"threadline.app/processor/internal/http/dto"
	"threadline.app/processor/internal/queue"
)

var knownSources = map[string]domain.SourceType{
	"slack":       domain.SourceSlack,
	"figma":       domain.SourceFigma,
	"notion_page": domain.SourceNotionPage,
}

type WebhookHandler struct {
	producer    queue.Producer
	sharedToken string
	traceHeader string
}

func NewWebhookHandler(producer queue.Producer, sharedToken, traceHeader string) *WebhookHandler {
	return &WebhookHandler{
		producer:    producer,
		sharedToken: sharedToken,
		traceHeader: traceHeader,
	}
}

// Ingest accepts a parsed discussion from the webhook-parsing layer and hands
// it to the pipeline. The platform-specific signature check happens upstream;
// this endpoint trusts a shared token.
func (h *WebhookHandler) Ingest(c *gin.Context) {
	ctx := c.Request.Context()

	token := c.GetHeader("X-Webhook-Token")
	if token == "" || token != h.sharedToken {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
		return
	}

	source, ok := knownSources[c.Param("source")]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown source"})
		return
	}

	var req dto.IngestDiscussionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid discussion payload", "source", source, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	traceID := c.GetHeader(h.traceHeader)
	if traceID == "" {
		if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
			traceID = spanCtx.TraceID().String()
		}
	}

	msg := queue.DiscussionMessage{
		Discussion: req.ToDomain(source),
		SkipAI:     req.SkipAI,
	}
	if traceID != "" {
		msg.TraceID = &traceID
	}

	if err := h.producer.Enqueue(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue discussion",
			"source", source,
			"source_thread_id", req.SourceThreadID,
			"error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue discussion"})
		return
	}

	c.JSON(http.StatusAccepted, dto.IngestDiscussionResponse{
		SourceType:     string(source),
		SourceThreadID: req.SourceThreadID,
		Enqueued:       true,
	})
}
