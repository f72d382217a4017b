package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"threadline.app/processor/core/db"
	"threadline.app/processor/internal/model"
)

type jobStore struct {
	q db.Querier
}

func newJobStore(q db.Querier) JobStore {
	return &jobStore{q: q}
}

const jobColumns = `id, discussion_id, team_id, stage, status, attempts, error, error_stack,
	task_ids, started_at, finished_at, duration_ms`

func (s *jobStore) GetByID(ctx context.Context, id int64) (*model.Job, error) {
	row := s.q.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (s *jobStore) Create(ctx context.Context, job *model.Job) error {
	row := s.q.QueryRow(ctx,
		`INSERT INTO jobs (id, discussion_id, team_id, stage, status, attempts)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+jobColumns,
		job.ID, job.DiscussionID, job.TeamID, job.Stage, job.Status, job.Attempts)

	created, err := scanJob(row)
	if err != nil {
		return err
	}
	*job = *created
	return nil
}

func (s *jobStore) UpdateStage(ctx context.Context, id int64, stage model.JobStage) error {
	tag, err := s.q.Exec(ctx, `UPDATE jobs SET stage = $2 WHERE id = $1`, id, stage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *jobStore) Finalize(ctx context.Context, id int64, params JobFinalization) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE jobs
		 SET status = $2, error = $3, error_stack = $4, task_ids = $5,
		     duration_ms = $6, finished_at = now()
		 WHERE id = $1`,
		id, params.Status, params.Error, params.ErrorStack, params.TaskIDs, params.DurationMs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *jobStore) ListByDiscussion(ctx context.Context, discussionID int64) ([]model.Job, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE discussion_id = $1 ORDER BY started_at`, discussionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	err := row.Scan(
		&j.ID, &j.DiscussionID, &j.TeamID, &j.Stage, &j.Status, &j.Attempts, &j.Error, &j.ErrorStack,
		&j.TaskIDs, &j.StartedAt, &j.FinishedAt, &j.DurationMs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}
