package store

import (
	"context"
	"encoding/json"
	"errors"

	"threadline.app/processor/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// DiscussionStore defines the contract for discussion data access
type DiscussionStore interface {
	GetByID(ctx context.Context, id int64) (*model.Discussion, error)
	GetBySourceThreadID(ctx context.Context, sourceThreadID string) (*model.Discussion, error)
	Create(ctx context.Context, discussion *model.Discussion) error
	UpdateStatus(ctx context.Context, id int64, status model.DiscussionStatus) error
	UpdateThread(ctx context.Context, id int64, authorHandle string, participants []string, threadData json.RawMessage) error
	UpdateResults(ctx context.Context, id int64, params DiscussionResults) error
	SetFailed(ctx context.Context, id int64, errMsg string) error
	Delete(ctx context.Context, id int64) error
}

// DiscussionResults carries the finalization payload for a discussion.
type DiscussionResults struct {
	Summary       *string
	KeyPoints     []string
	TaskDetection json.RawMessage
	NotionTaskIDs []string
	Status        model.DiscussionStatus
}

// JobStore defines the contract for processing-job data access
type JobStore interface {
	GetByID(ctx context.Context, id int64) (*model.Job, error)
	Create(ctx context.Context, job *model.Job) error
	UpdateStage(ctx context.Context, id int64, stage model.JobStage) error
	Finalize(ctx context.Context, id int64, params JobFinalization) error
	ListByDiscussion(ctx context.Context, discussionID int64) ([]model.Job, error)
}

// JobFinalization carries the terminal fields for a job.
type JobFinalization struct {
	Status     model.JobStatus
	Error      *string
	ErrorStack *string
	TaskIDs    []int64
	DurationMs int64
}

// FlowStore defines the contract for flow configuration data access
type FlowStore interface {
	GetByID(ctx context.Context, id int64) (*model.Flow, error)
	ListActiveInputsBySourceType(ctx context.Context, sourceType string) ([]model.FlowInput, error)
	ListOutputsByFlow(ctx context.Context, flowID int64) ([]model.FlowOutput, error)
}

// LegacyConfigStore reads the pre-flow single-destination configuration.
type LegacyConfigStore interface {
	GetActiveBySource(ctx context.Context, sourceType, workspaceID string) (*model.LegacyConfig, error)
}

// TaskStore defines the contract for created-task data access
type TaskStore interface {
	Create(ctx context.Context, task *model.Task) error
	ListByDiscussion(ctx context.Context, discussionID int64) ([]model.Task, error)
}

// UserMappingStore defines the contract for identity-mapping data access
type UserMappingStore interface {
	// ListActive returns active mappings for the team/source scoped to the
	// workspace; mappings with no workspace recorded are global and match any.
	ListActive(ctx context.Context, teamID int64, sourceType, workspaceID string) ([]model.UserMapping, error)
	ExistsForSourceUser(ctx context.Context, teamID int64, sourceType, workspaceID, sourceUserID string) (bool, error)
	Create(ctx context.Context, mapping *model.UserMapping) error
}
