package model

import "time"

// MappingType distinguishes harvested identities from human-confirmed ones.
type MappingType string

const (
	MappingTypeDiscovered MappingType = "discovered"
	MappingTypeConfirmed  MappingType = "confirmed"
)

// UserMapping is a learned correspondence between a platform identity and a
// Notion identity. Created in discovered/inactive state by the bootstrap
// detector; a human mapping step later sets NotionUserID and Active.
type UserMapping struct {
	ID                int64       `json:"id"`
	TeamID            int64       `json:"team_id"`
	SourceType        string      `json:"source_type"`
	SourceWorkspaceID *string     `json:"source_workspace_id,omitempty"` // nil = global, matches any workspace
	SourceUserID      string      `json:"source_user_id"`
	SourceUserName    string      `json:"source_user_name"`
	NotionUserID      *string     `json:"notion_user_id,omitempty"` // nil = discovered but unmapped
	Active            bool        `json:"active"`
	Confidence        float64     `json:"confidence"`
	MappingType       MappingType `json:"mapping_type"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}
