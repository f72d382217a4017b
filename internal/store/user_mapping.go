package store

import (
	"context"

	"threadline.app/processor/core/db"
	"threadline.app/processor/internal/model"
)

type userMappingStore struct {
	q db.Querier
}

func newUserMappingStore(q db.Querier) UserMappingStore {
	return &userMappingStore{q: q}
}

func (s *userMappingStore) ListActive(ctx context.Context, teamID int64, sourceType, workspaceID string) ([]model.UserMapping, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, team_id, source_type, source_workspace_id, source_user_id, source_user_name,
		        notion_user_id, active, confidence, mapping_type, created_at, updated_at
		 FROM user_mappings
		 WHERE team_id = $1 AND source_type = $2 AND active
		   AND (source_workspace_id IS NULL OR source_workspace_id = $3)
		 ORDER BY created_at`, teamID, sourceType, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []model.UserMapping
	for rows.Next() {
		var m model.UserMapping
		if err := rows.Scan(
			&m.ID, &m.TeamID, &m.SourceType, &m.SourceWorkspaceID, &m.SourceUserID, &m.SourceUserName,
			&m.NotionUserID, &m.Active, &m.Confidence, &m.MappingType, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func (s *userMappingStore) ExistsForSourceUser(ctx context.Context, teamID int64, sourceType, workspaceID, sourceUserID string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM user_mappings
			WHERE team_id = $1 AND source_type = $2 AND source_user_id = $4
			  AND (source_workspace_id IS NULL OR source_workspace_id = $3)
		 )`, teamID, sourceType, workspaceID, sourceUserID).Scan(&exists)
	return exists, err
}

func (s *userMappingStore) Create(ctx context.Context, m *model.UserMapping) error {
	row := s.q.QueryRow(ctx,
		`INSERT INTO user_mappings (id, team_id, source_type, source_workspace_id, source_user_id,
			source_user_name, notion_user_id, active, confidence, mapping_type)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at, updated_at`,
		m.ID, m.TeamID, m.SourceType, m.SourceWorkspaceID, m.SourceUserID,
		m.SourceUserName, m.NotionUserID, m.Active, m.Confidence, m.MappingType)

	return row.Scan(&m.CreatedAt, &m.UpdatedAt)
}
