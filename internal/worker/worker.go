package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"threadline.app/processor/common/logger"
	"threadline.app/processor/internal/processor"
	"threadline.app/processor/internal/queue"
)

type Config struct {
	MaxAttempts int
}

type Worker struct {
	consumer  Consumer
	processor DiscussionProcessor
	cfg       Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, proc DiscussionProcessor, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Worker{
		consumer:  consumer,
		processor: proc,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := w.processMessageSafe(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "message processing failed",
				"error", err,
				"message_id", msg.ID,
				"source_thread_id", msg.Discussion.SourceThreadID)
			w.handleFailedMessage(ctx, msg, err)
			continue
		}
		if err := w.consumer.Ack(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "acking processed message failed",
				"message_id", msg.ID,
				"error", err)
		}
	}

	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"message_id", msg.ID,
				"source_thread_id", msg.Discussion.SourceThreadID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage runs the pipeline for one queued discussion.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID:  logger.Ptr(msg.ID),
		SourceType: logger.Ptr(string(msg.Discussion.SourceType)),
		Component:  "processor.worker",
	})

	slog.InfoContext(ctx, "processing message",
		"message_id", msg.ID,
		"source_thread_id", msg.Discussion.SourceThreadID,
		"attempt", msg.Attempt)

	_, err := w.processor.Process(ctx, msg.Discussion, processor.Options{SkipAI: msg.SkipAI})
	return err
}

// handleFailedMessage decides between requeue and dead-letter. Non-retryable
// failures go straight to the DLQ; retryable ones get up to MaxAttempts.
func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, procErr error) {
	if !processor.IsRetryable(procErr) {
		if err := w.consumer.SendDLQ(ctx, msg, procErr.Error()); err != nil {
			slog.ErrorContext(ctx, "sending message to DLQ failed", "error", err)
		}
		return
	}

	if msg.Attempt >= w.cfg.MaxAttempts {
		slog.WarnContext(ctx, "message exhausted retries",
			"message_id", msg.ID,
			"attempts", msg.Attempt)
		if err := w.consumer.SendDLQ(ctx, msg, procErr.Error()); err != nil {
			slog.ErrorContext(ctx, "sending message to DLQ failed", "error", err)
		}
		return
	}

	if err := w.consumer.Requeue(ctx, msg, procErr.Error()); err != nil {
		slog.ErrorContext(ctx, "requeueing message failed", "error", err)
	}
}
