package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"threadline.app/processor/common/logger"
	"threadline.app/processor/internal/domain"
)

const (
	defaultRequeueDelay = 2 * time.Second
	maxRequeueDelay     = 30 * time.Second
)

type ConsumerConfig struct {
	Stream       string        // Redis stream name
	Group        string        // Redis consumer group name
	Consumer     string        // Redis consumer name
	DLQStream    string        // Dead letter queue stream for failed messages
	BatchSize    int64         // Number of messages to process per batch
	Block        time.Duration // How long to block/poll for new messages
	MaxAttempts  int           // Maximum retry attempts before moving to DLQ
	RequeueDelay time.Duration // Base delay before retrying, doubled per attempt
}

// Message is one parsed stream entry.
type Message struct {
	ID         string
	Discussion *domain.ParsedDiscussion
	SkipAI     bool
	Attempt    int
	TraceID    string
	Raw        redis.XMessage
}

// MessageProcessor processes a queue message.
type MessageProcessor func(ctx context.Context, msg Message) error

type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(context.Background()); err != nil { //nolint:contextcheck
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Starting from "0" instead of "$" means a recreated group still sees
	// whatever is already in the stream; nothing is lost across restarts.
	if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) MaxAttempts() int {
	return c.cfg.MaxAttempts
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "processor.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseMessage(msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse message",
					"error", parseErr,
					"raw_message_id", msg.ID,
					"stream", c.cfg.Stream)
				_ = c.Ack(ctx, Message{ID: msg.ID, Raw: msg})
				continue
			}
			messages = append(messages, parsed)
		}
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "read messages from stream",
			"count", len(messages),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}

	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}

	slog.DebugContext(ctx, "message acknowledged", "stream", c.cfg.Stream)
	return nil
}

func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for requeue: %w", err)
	}

	values, err := messageValues(msg, msg.Attempt+1)
	if err != nil {
		return err
	}
	if errMsg != "" {
		values["last_error"] = errMsg
	}

	if delay := c.retryDelay(msg.Attempt); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}

	slog.InfoContext(ctx, "message requeued for retry",
		"next_attempt", msg.Attempt+1,
		"reason", errMsg)
	return nil
}

// retryDelay backs off exponentially on the failed attempt number:
// base, base*2, base*4, ... capped at maxRequeueDelay.
func (c *RedisConsumer) retryDelay(attempt int) time.Duration {
	base := c.cfg.RequeueDelay
	if base <= 0 {
		base = defaultRequeueDelay
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base << (attempt - 1)
	if delay > maxRequeueDelay || delay <= 0 {
		delay = maxRequeueDelay
	}
	return delay
}

func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for dlq: %w", err)
	}

	values, err := messageValues(msg, msg.Attempt)
	if err != nil {
		return err
	}
	values["error"] = errMsg

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}

	slog.ErrorContext(ctx, "message sent to DLQ",
		"final_error", errMsg,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

func messageValues(msg Message, attempt int) (map[string]any, error) {
	payload, err := json.Marshal(msg.Discussion)
	if err != nil {
		return nil, fmt.Errorf("encoding discussion: %w", err)
	}

	values := map[string]any{
		"payload":          string(payload),
		"source_type":      string(msg.Discussion.SourceType),
		"source_thread_id": msg.Discussion.SourceThreadID,
		"attempt":          attempt,
	}
	if msg.SkipAI {
		values["skip_ai"] = "1"
	}
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}
	return values, nil
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	payload, err := parseString(msg.Values, "payload")
	if err != nil {
		return Message{}, err
	}

	var discussion domain.ParsedDiscussion
	if err := json.Unmarshal([]byte(payload), &discussion); err != nil {
		return Message{}, fmt.Errorf("decoding discussion payload: %w", err)
	}
	if discussion.SourceThreadID == "" {
		return Message{}, fmt.Errorf("payload missing source_thread_id")
	}

	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	traceID, err := parseOptionalString(msg.Values, "trace_id")
	if err != nil {
		return Message{}, err
	}
	skipAI, err := parseOptionalString(msg.Values, "skip_ai")
	if err != nil {
		return Message{}, err
	}

	return Message{
		ID:         msg.ID,
		Discussion: &discussion,
		SkipAI:     skipAI == "1",
		Attempt:    attempt,
		TraceID:    traceID,
		Raw:        msg,
	}, nil
}

func parseString(values map[string]any, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s is not a string", key)
	}
	return s, nil
}

func parseOptionalString(values map[string]any, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s is not a string", key)
	}
	return s, nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	v, ok := values[key]
	if !ok {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("%s is not a string", key)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}
