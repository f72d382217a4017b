package store

import (
	"context"

	"threadline.app/processor/core/db"
	"threadline.app/processor/internal/model"
)

type taskStore struct {
	q db.Querier
}

func newTaskStore(q db.Querier) TaskStore {
	return &taskStore{q: q}
}

func (s *taskStore) Create(ctx context.Context, task *model.Task) error {
	row := s.q.QueryRow(ctx,
		`INSERT INTO tasks (id, discussion_id, sync_job_id, team_id, output_id, external_id,
			external_url, title, description, priority, assignee, domain,
			is_multi_task_child, task_index)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING created_at`,
		task.ID, task.DiscussionID, task.SyncJobID, task.TeamID, task.OutputID, task.ExternalID,
		task.ExternalURL, task.Title, task.Description, task.Priority, task.Assignee, task.Domain,
		task.IsMultiTaskChild, task.TaskIndex)

	return row.Scan(&task.CreatedAt)
}

func (s *taskStore) ListByDiscussion(ctx context.Context, discussionID int64) ([]model.Task, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, discussion_id, sync_job_id, team_id, output_id, external_id, external_url,
		        title, description, priority, assignee, domain, is_multi_task_child, task_index, created_at
		 FROM tasks
		 WHERE discussion_id = $1
		 ORDER BY task_index, created_at`, discussionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		var t model.Task
		if err := rows.Scan(
			&t.ID, &t.DiscussionID, &t.SyncJobID, &t.TeamID, &t.OutputID, &t.ExternalID, &t.ExternalURL,
			&t.Title, &t.Description, &t.Priority, &t.Assignee, &t.Domain, &t.IsMultiTaskChild,
			&t.TaskIndex, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
