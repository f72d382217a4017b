package domain

import "encoding/json"

// SourceType identifies the collaboration surface a discussion came from.
type SourceType string

const (
	SourceSlack      SourceType = "slack"
	SourceFigma      SourceType = "figma"
	SourceNotionPage SourceType = "notion_page"
)

// ParsedDiscussion is the immutable input to the pipeline, produced by the
// webhook-parsing layer per source platform. Required fields are validated
// before any side effect.
type ParsedDiscussion struct {
	SourceType     SourceType        `json:"source_type"`
	SourceThreadID string            `json:"source_thread_id"`
	SourceURL      string            `json:"source_url"`
	TeamID         string            `json:"team_id"` // source-side identifier, not the internal team id
	AuthorHandle   string            `json:"author_handle"`
	Title          string            `json:"title"`
	Content        string            `json:"content"`
	Participants   []string          `json:"participants,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	RawPayload     json.RawMessage   `json:"raw_payload,omitempty"`
}

// WorkspaceID returns the source-side workspace identifier, if the parser
// recorded one. For chat platforms this matches TeamID.
func (p ParsedDiscussion) WorkspaceID() string {
	if ws, ok := p.Metadata["workspace_id"]; ok && ws != "" {
		return ws
	}
	return p.TeamID
}

// EmailSlug returns the comment-by-email routing slug, for sources that
// identify by slug instead of workspace.
func (p ParsedDiscussion) EmailSlug() string {
	return p.Metadata["email_slug"]
}
