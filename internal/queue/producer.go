package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"threadline.app/processor/internal/domain"
)

// DiscussionMessage is one webhook delivery handed from the ingest server to
// the worker.
type DiscussionMessage struct {
	Discussion *domain.ParsedDiscussion
	SkipAI     bool
	TraceID    *string
	Attempt    int
}

type Producer interface {
	Enqueue(ctx context.Context, msg DiscussionMessage) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, msg DiscussionMessage) error {
	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	payload, err := json.Marshal(msg.Discussion)
	if err != nil {
		return fmt.Errorf("encoding discussion: %w", err)
	}

	fields := map[string]any{
		"payload":          string(payload),
		"source_type":      string(msg.Discussion.SourceType),
		"source_thread_id": msg.Discussion.SourceThreadID,
		"attempt":          attempt,
	}
	if msg.SkipAI {
		fields["skip_ai"] = "1"
	}
	if msg.TraceID != nil && *msg.TraceID != "" {
		fields["trace_id"] = *msg.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue discussion: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued discussion",
		"source_type", msg.Discussion.SourceType,
		"source_thread_id", msg.Discussion.SourceThreadID,
		"attempt", attempt)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
