package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"threadline.app/processor/core/db"
	"threadline.app/processor/internal/model"
)

type flowStore struct {
	q db.Querier
}

func newFlowStore(q db.Querier) FlowStore {
	return &flowStore{q: q}
}

func (s *flowStore) GetByID(ctx context.Context, id int64) (*model.Flow, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, team_id, name, ai_enabled, summary_prompt, task_prompt, reply_personality,
		        available_domains, api_key_encrypted, api_key_hint, active, created_at, updated_at
		 FROM flows WHERE id = $1`, id)

	var f model.Flow
	err := row.Scan(
		&f.ID, &f.TeamID, &f.Name, &f.AIEnabled, &f.SummaryPrompt, &f.TaskPrompt, &f.ReplyPersonality,
		&f.AvailableDomains, &f.APIKeyEncrypted, &f.APIKeyHint, &f.Active, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (s *flowStore) ListActiveInputsBySourceType(ctx context.Context, sourceType string) ([]model.FlowInput, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, flow_id, team_id, source_type, workspace_id, email_slug, credentials,
		        metadata, active, created_at, updated_at
		 FROM flow_inputs
		 WHERE source_type = $1 AND active
		 ORDER BY created_at`, sourceType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inputs []model.FlowInput
	for rows.Next() {
		var in model.FlowInput
		if err := rows.Scan(
			&in.ID, &in.FlowID, &in.TeamID, &in.SourceType, &in.WorkspaceID, &in.EmailSlug, &in.Credentials,
			&in.Metadata, &in.Active, &in.CreatedAt, &in.UpdatedAt,
		); err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	return inputs, rows.Err()
}

func (s *flowStore) ListOutputsByFlow(ctx context.Context, flowID int64) ([]model.FlowOutput, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, flow_id, team_id, output_type, config, domain_filter, is_default, created_at, updated_at
		 FROM flow_outputs
		 WHERE flow_id = $1
		 ORDER BY is_default DESC, created_at`, flowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outputs []model.FlowOutput
	for rows.Next() {
		var out model.FlowOutput
		if err := rows.Scan(
			&out.ID, &out.FlowID, &out.TeamID, &out.OutputType, &out.Config, &out.DomainFilter,
			&out.IsDefault, &out.CreatedAt, &out.UpdatedAt,
		); err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}
	return outputs, rows.Err()
}

type legacyConfigStore struct {
	q db.Querier
}

func newLegacyConfigStore(q db.Querier) LegacyConfigStore {
	return &legacyConfigStore{q: q}
}

func (s *legacyConfigStore) GetActiveBySource(ctx context.Context, sourceType, workspaceID string) (*model.LegacyConfig, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, team_id, source_type, workspace_id, notion_database_id, config, active, created_at, updated_at
		 FROM legacy_configs
		 WHERE source_type = $1 AND active
		   AND (workspace_id IS NULL OR workspace_id = $2)
		 ORDER BY workspace_id NULLS LAST
		 LIMIT 1`, sourceType, workspaceID)

	var c model.LegacyConfig
	err := row.Scan(
		&c.ID, &c.TeamID, &c.SourceType, &c.WorkspaceID, &c.NotionDatabaseID, &c.Config,
		&c.Active, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
