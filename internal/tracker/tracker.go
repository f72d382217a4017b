package tracker

import (
	"context"
	"encoding/json"
	"time"

	"threadline.app/processor/internal/analyzer"
	"threadline.app/processor/internal/domain"
)

// CreatedTask is the destination-side artifact produced for one routed task.
type CreatedTask struct {
	ID        string
	URL       string
	CreatedAt time.Time
}

// Request carries everything a destination needs to create one task.
type Request struct {
	Task      analyzer.Task
	Thread    *domain.Thread
	Summary   string
	SourceURL string
	// Config is the matched output's destination-specific configuration.
	Config json.RawMessage
	// IdentityMap maps a participant display name to the destination-side
	// user id, for people properties. Missing entries are skipped.
	IdentityMap map[string]string
}

// Creator creates tasks in one destination tracker. Implementations are
// selected by the output's type; failures are caught at the call site so one
// destination cannot block another.
type Creator interface {
	CreateTask(ctx context.Context, req Request) (*CreatedTask, error)
}

// Factory builds a Creator bound to a flow's destination credentials.
type Factory func(token string) Creator
