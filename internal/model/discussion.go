package model

import (
	"encoding/json"
	"time"
)

// DiscussionStatus represents lifecycle state of a processed discussion.
// Transitions are append-only; the only rollback is explicit delete-and-retry
// for failed or bootstrap-origin rows.
type DiscussionStatus string

const (
	DiscussionStatusPending    DiscussionStatus = "pending"
	DiscussionStatusProcessing DiscussionStatus = "processing"
	DiscussionStatusAnalyzed   DiscussionStatus = "analyzed"
	DiscussionStatusCompleted  DiscussionStatus = "completed"
	DiscussionStatusFailed     DiscussionStatus = "failed"
)

// Terminal reports whether the status admits no further processing.
func (s DiscussionStatus) Terminal() bool {
	return s == DiscussionStatusCompleted || s == DiscussionStatusFailed
}

// Discussion is the persisted record of one thread being processed.
// At most one non-terminal Discussion may exist per SourceThreadID.
type Discussion struct {
	ID             int64             `json:"id"`
	TeamID         int64             `json:"team_id"`
	SourceType     string            `json:"source_type"`
	SourceThreadID string            `json:"source_thread_id"`
	SourceURL      string            `json:"source_url"`
	Title          string            `json:"title"`
	Content        string            `json:"content"`
	AuthorHandle   string            `json:"author_handle"`
	Participants   []string          `json:"participants,omitempty"`
	Status         DiscussionStatus  `json:"status"`
	ThreadData     json.RawMessage   `json:"thread_data,omitempty"`
	Summary        *string           `json:"summary,omitempty"`
	KeyPoints      []string          `json:"key_points,omitempty"`
	TaskDetection  json.RawMessage   `json:"task_detection,omitempty"`
	NotionTaskIDs  []string          `json:"notion_task_ids,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
