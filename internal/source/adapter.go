package source

import (
	"context"
	"encoding/json"
	"fmt"

	"threadline.app/processor/internal/domain"
)

// Status values an adapter may reflect back onto the origin thread.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Adapter talks to one collaboration surface. Credentials come from the
// matched flow input, so every call carries them rather than binding a client
// per team.
type Adapter interface {
	SourceType() domain.SourceType
	FetchThread(ctx context.Context, threadID string, creds json.RawMessage) (*domain.Thread, error)
	PostReply(ctx context.Context, threadID, message string, creds json.RawMessage) error
	// UpdateStatus reflects pipeline progress on the origin surface. Platforms
	// with no status affordance implement it as a no-op.
	UpdateStatus(ctx context.Context, threadID, status string, creds json.RawMessage) error
}

// ReactionRemover is an optional adapter capability for platforms where
// status is expressed as a removable reaction.
type ReactionRemover interface {
	RemoveReaction(ctx context.Context, threadID, reactionID string, creds json.RawMessage) error
}

// Registry holds one adapter per source type.
type Registry struct {
	adapters map[domain.SourceType]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.SourceType]Adapter)}
	for _, a := range adapters {
		r.adapters[a.SourceType()] = a
	}
	return r
}

// For returns the adapter for a source type.
func (r *Registry) For(sourceType domain.SourceType) (Adapter, error) {
	a, ok := r.adapters[sourceType]
	if !ok {
		return nil, fmt.Errorf("no adapter for source type %q", sourceType)
	}
	return a, nil
}
