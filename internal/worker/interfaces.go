package worker

import (
	"context"

	"threadline.app/processor/internal/domain"
	"threadline.app/processor/internal/processor"
	"threadline.app/processor/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// DiscussionProcessor abstracts the pipeline processing for testability.
type DiscussionProcessor interface {
	Process(ctx context.Context, parsed *domain.ParsedDiscussion, opts processor.Options) (*processor.Result, error)
}
