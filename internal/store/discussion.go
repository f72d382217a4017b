package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"threadline.app/processor/core/db"
	"threadline.app/processor/internal/model"
)

type discussionStore struct {
	q db.Querier
}

func newDiscussionStore(q db.Querier) DiscussionStore {
	return &discussionStore{q: q}
}

const discussionColumns = `id, team_id, source_type, source_thread_id, source_url, title, content,
	author_handle, participants, status, thread_data, summary, key_points,
	task_detection, notion_task_ids, metadata, created_at, updated_at`

func (s *discussionStore) GetByID(ctx context.Context, id int64) (*model.Discussion, error) {
	row := s.q.QueryRow(ctx, `SELECT `+discussionColumns+` FROM discussions WHERE id = $1`, id)
	return scanDiscussion(row)
}

func (s *discussionStore) GetBySourceThreadID(ctx context.Context, sourceThreadID string) (*model.Discussion, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+discussionColumns+` FROM discussions
		 WHERE source_thread_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`, sourceThreadID)
	return scanDiscussion(row)
}

func (s *discussionStore) Create(ctx context.Context, d *model.Discussion) error {
	row := s.q.QueryRow(ctx,
		`INSERT INTO discussions (id, team_id, source_type, source_thread_id, source_url,
			title, content, author_handle, participants, status, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING `+discussionColumns,
		d.ID, d.TeamID, d.SourceType, d.SourceThreadID, d.SourceURL,
		d.Title, d.Content, d.AuthorHandle, d.Participants, d.Status, d.Metadata)

	created, err := scanDiscussion(row)
	if err != nil {
		return err
	}
	*d = *created
	return nil
}

func (s *discussionStore) UpdateStatus(ctx context.Context, id int64, status model.DiscussionStatus) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE discussions SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *discussionStore) UpdateThread(ctx context.Context, id int64, authorHandle string, participants []string, threadData json.RawMessage) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE discussions
		 SET author_handle = $2, participants = $3, thread_data = $4, updated_at = now()
		 WHERE id = $1`,
		id, authorHandle, participants, threadData)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *discussionStore) UpdateResults(ctx context.Context, id int64, params DiscussionResults) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE discussions
		 SET summary = $2, key_points = $3, task_detection = $4,
		     notion_task_ids = $5, status = $6, updated_at = now()
		 WHERE id = $1`,
		id, params.Summary, params.KeyPoints, params.TaskDetection, params.NotionTaskIDs, params.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *discussionStore) SetFailed(ctx context.Context, id int64, errMsg string) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE discussions
		 SET status = $2, metadata = COALESCE(metadata, '{}'::jsonb) || jsonb_build_object('error', $3::text),
		     updated_at = now()
		 WHERE id = $1`,
		id, model.DiscussionStatusFailed, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *discussionStore) Delete(ctx context.Context, id int64) error {
	_, err := s.q.Exec(ctx, `DELETE FROM discussions WHERE id = $1`, id)
	return err
}

func scanDiscussion(row pgx.Row) (*model.Discussion, error) {
	var d model.Discussion
	err := row.Scan(
		&d.ID, &d.TeamID, &d.SourceType, &d.SourceThreadID, &d.SourceURL, &d.Title, &d.Content,
		&d.AuthorHandle, &d.Participants, &d.Status, &d.ThreadData, &d.Summary, &d.KeyPoints,
		&d.TaskDetection, &d.NotionTaskIDs, &d.Metadata, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}
