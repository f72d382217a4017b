package model

import (
	"encoding/json"
	"time"
)

// Flow is a team's end-to-end routing configuration binding one or more
// inputs to one or more outputs plus AI settings. Inputs and outputs are
// never independently meaningful.
type Flow struct {
	ID               int64     `json:"id"`
	TeamID           int64     `json:"team_id"`
	Name             string    `json:"name"`
	AIEnabled        bool      `json:"ai_enabled"`
	SummaryPrompt    *string   `json:"summary_prompt,omitempty"`
	TaskPrompt       *string   `json:"task_prompt,omitempty"`
	ReplyPersonality *string   `json:"reply_personality,omitempty"`
	AvailableDomains []string  `json:"available_domains,omitempty"`
	APIKeyEncrypted  string    `json:"-"` // AES-GCM at rest, never exposed
	APIKeyHint       string    `json:"api_key_hint,omitempty"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// FlowInput is one connected source (chat workspace, design file, page)
// feeding a Flow.
type FlowInput struct {
	ID          int64           `json:"id"`
	FlowID      int64           `json:"flow_id"`
	TeamID      int64           `json:"team_id"`
	SourceType  string          `json:"source_type"`
	WorkspaceID *string         `json:"workspace_id,omitempty"` // chat/page platforms
	EmailSlug   *string         `json:"email_slug,omitempty"`   // comment-by-email platforms
	Credentials json.RawMessage `json:"-"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// FlowOutput is one destination task-tracker target, optionally filtered to
// specific subject-matter domains. A nil DomainFilter is a wildcard.
type FlowOutput struct {
	ID           int64           `json:"id"`
	FlowID       int64           `json:"flow_id"`
	TeamID       int64           `json:"team_id"`
	OutputType   string          `json:"output_type"`
	Config       json.RawMessage `json:"config,omitempty"`
	DomainFilter []string        `json:"domain_filter,omitempty"`
	IsDefault    bool            `json:"is_default"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// LegacyConfig is the pre-Flow single-destination configuration. Kept for
// teams that have not migrated; the resolver falls back to it when no flow
// input matches.
type LegacyConfig struct {
	ID               int64           `json:"id"`
	TeamID           int64           `json:"team_id"`
	SourceType       string          `json:"source_type"`
	WorkspaceID      *string         `json:"workspace_id,omitempty"`
	NotionDatabaseID string          `json:"notion_database_id"`
	Config           json.RawMessage `json:"config,omitempty"`
	Active           bool            `json:"active"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
