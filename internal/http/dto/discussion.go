package dto

import (
	"encoding/json"

	"threadline.app/processor/internal/domain"
)

// IngestDiscussionRequest is the payload the webhook-parsing layer posts once
// it has normalized a platform event into a discussion thread.
type IngestDiscussionRequest struct {
	SourceThreadID string            `json:"source_thread_id" binding:"required"`
	SourceURL      string            `json:"source_url"`
	TeamID         string            `json:"team_id" binding:"required"`
	AuthorHandle   string            `json:"author_handle"`
	Title          string            `json:"title"`
	Content        string            `json:"content" binding:"required"`
	Participants   []string          `json:"participants,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	RawPayload     json.RawMessage   `json:"raw_payload,omitempty"`
	SkipAI         bool              `json:"skip_ai,omitempty"`
}

func (r IngestDiscussionRequest) ToDomain(source domain.SourceType) *domain.ParsedDiscussion {
	return &domain.ParsedDiscussion{
		SourceType:     source,
		SourceThreadID: r.SourceThreadID,
		SourceURL:      r.SourceURL,
		TeamID:         r.TeamID,
		AuthorHandle:   r.AuthorHandle,
		Title:          r.Title,
		Content:        r.Content,
		Participants:   r.Participants,
		Metadata:       r.Metadata,
		RawPayload:     r.RawPayload,
	}
}

type IngestDiscussionResponse struct {
	SourceType     string `json:"source_type"`
	SourceThreadID string `json:"source_thread_id"`
	Enqueued       bool   `json:"enqueued"`
}
