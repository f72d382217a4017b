package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"threadline.app/processor/internal/domain"
	"threadline.app/processor/internal/model"
)

const (
	maxAttempts = 3
	baseDelay   = 2 * time.Second
	maxDelay    = 30 * time.Second
)

// withBackoff runs op up to maxAttempts times with exponential backoff,
// stopping early on non-retryable errors and context cancellation.
func withBackoff(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := baseDelay << (attempt - 1)
			if delay > maxDelay {
				delay = maxDelay
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err = op()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		slog.WarnContext(ctx, "retrying after failure",
			"attempt", attempt+1,
			"error", err)
	}
	return fmt.Errorf("after %d attempts: %w", maxAttempts, err)
}

// RetryFailedDiscussion reprocesses a failed discussion by id. The stale row
// is deleted by the dedup stage; the rebuilt payload processes fresh. This is
// an explicit caller action, wrapped in the standard backoff policy.
func (p *Processor) RetryFailedDiscussion(ctx context.Context, discussionID int64) (*Result, error) {
	discussion, err := p.cfg.Discussions.GetByID(ctx, discussionID)
	if err != nil {
		return nil, fmt.Errorf("loading discussion %d: %w", discussionID, err)
	}
	if discussion.Status != model.DiscussionStatusFailed {
		return nil, newError(StageValidation, false,
			fmt.Sprintf("discussion %d is %s, only failed discussions can be retried", discussionID, discussion.Status))
	}

	parsed := rebuildPayload(discussion)

	var result *Result
	err = withBackoff(ctx, func() error {
		var procErr error
		result, procErr = p.Process(ctx, parsed, Options{})
		return procErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// rebuildPayload reconstructs the webhook payload from the persisted row.
func rebuildPayload(d *model.Discussion) *domain.ParsedDiscussion {
	var raw json.RawMessage
	if d.ThreadData != nil {
		raw = d.ThreadData
	}
	return &domain.ParsedDiscussion{
		SourceType:     domain.SourceType(d.SourceType),
		SourceThreadID: d.SourceThreadID,
		SourceURL:      d.SourceURL,
		TeamID:         teamIdentifier(d),
		AuthorHandle:   d.AuthorHandle,
		Title:          d.Title,
		Content:        d.Content,
		Participants:   d.Participants,
		Metadata:       d.Metadata,
		RawPayload:     raw,
	}
}

// teamIdentifier recovers the source-side workspace identifier recorded at
// ingest time.
func teamIdentifier(d *model.Discussion) string {
	if ws, ok := d.Metadata["workspace_id"]; ok && ws != "" {
		return ws
	}
	if ws, ok := d.Metadata["source_team_id"]; ok && ws != "" {
		return ws
	}
	return fmt.Sprintf("%d", d.TeamID)
}
